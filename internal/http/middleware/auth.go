package middleware

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sifan077/shorturl/internal/app/model"
)

const ownerLocalsKey = "owner"

var errInvalidSubject = errors.New("subject is not a positive owner id")

// OwnerClaims is the JWT payload accepted by Auth. The subject carries the
// numeric owner id.
type OwnerClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Auth verifies an HS256 bearer token and stores the owner it names in the
// request locals. Tokens must carry an exp claim. Requests without a valid
// token get 401.
func Auth(secret []byte, issuer string) fiber.Handler {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(c *fiber.Ctx) error {
		raw, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return unauthorized(c)
		}

		claims := &OwnerClaims{}
		token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil || !token.Valid {
			return unauthorized(c)
		}

		owner, err := ownerFromClaims(claims)
		if err != nil {
			return unauthorized(c)
		}

		c.Locals(ownerLocalsKey, owner)
		return c.Next()
	}
}

// OwnerFrom returns the owner stored by Auth.
func OwnerFrom(c *fiber.Ctx) (model.Owner, bool) {
	owner, ok := c.Locals(ownerLocalsKey).(model.Owner)
	return owner, ok
}

func ownerFromClaims(claims *OwnerClaims) (model.Owner, error) {
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return model.Owner{}, errInvalidSubject
	}
	return model.Owner{ID: id, Username: claims.Username}, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "unauthorized",
	})
}
