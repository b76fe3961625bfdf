package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/shorturl/internal/app/repository"
	"github.com/sifan077/shorturl/internal/app/service"
	inthttp "github.com/sifan077/shorturl/internal/http/handler"
	"github.com/sifan077/shorturl/internal/http/middleware"
	infraPrometheus "github.com/sifan077/shorturl/internal/infra/prometheus"
	"go.uber.org/zap"
)

// Dependencies bundles what the HTTP server needs to serve requests.
type Dependencies struct {
	Logger    *zap.Logger
	Links     service.LinkService
	Analytics service.AnalyticsService
	// Metrics is optional; request and resolution metrics are skipped without it.
	Metrics *infraPrometheus.Metrics
	Checks  map[string]inthttp.ReadinessCheck

	JWTSecret      []byte
	JWTIssuer      string
	Location       *time.Location
	RequestTimeout time.Duration
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates a new HTTP server instance with default routes.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "shorturl",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(deps.Logger),
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerMiddleware()
	s.registerRoutes()
	return s
}

// App exposes the underlying Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerMiddleware() {
	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.Recovery(s.deps.Logger))
	s.app.Use(middleware.Logger(s.deps.Logger))
	if s.deps.Metrics != nil {
		s.app.Use(middleware.Metrics(s.deps.Metrics.RequestDuration))
	}
	s.app.Use(middleware.CORS())
	s.app.Use(middleware.Timeout(s.deps.RequestTimeout))
}

func (s *Server) registerRoutes() {
	apiHandler := inthttp.NewAPIHandler(inthttp.APIDeps{
		Logger:    s.deps.Logger,
		Links:     s.deps.Links,
		Analytics: s.deps.Analytics,
		Metrics:   s.deps.Metrics,
		Location:  s.deps.Location,
	})
	apiHandler.Register(s.app, middleware.Auth(s.deps.JWTSecret, s.deps.JWTIssuer))

	redirectHandler := inthttp.NewRedirectHandler(inthttp.RedirectDeps{
		Logger:  s.deps.Logger,
		Links:   s.deps.Links,
		Metrics: s.deps.Metrics,
		Checks:  s.deps.Checks,
	})
	redirectHandler.Register(s.app)
}

// errorHandler renders errors that escaped a handler, such as unmatched
// routes, as JSON.
func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := "internal server error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			msg = fe.Message
		} else {
			logger.Error("unhandled error", zap.Error(err), zap.String("path", c.Path()))
		}

		return c.Status(code).JSON(fiber.Map{
			"error": msg,
		})
	}
}

// NewServices builds the link and analytics services on top of store.
func NewServices(logger *zap.Logger, store repository.Store, notifier service.ClickNotifier, storageTimeout time.Duration, loc *time.Location) (service.LinkService, service.AnalyticsService) {
	links := service.NewLinkService(service.LinkDeps{
		Logger:         logger,
		Links:          store.Links,
		Recorder:       store.Recorder,
		Notifier:       notifier,
		StorageTimeout: storageTimeout,
	})
	analytics := service.NewAnalyticsService(service.AnalyticsDeps{
		Logger:         logger,
		Links:          store.Links,
		Clicks:         store.Clicks,
		Location:       loc,
		StorageTimeout: storageTimeout,
	})
	return links, analytics
}
