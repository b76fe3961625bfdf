// Package shortcode derives the public short code of a link from its
// store-assigned numeric identifier.
//
// Codes are the base-62 representation of the id over the alphabet
// A-Z, a-z, 0-9 (index 0 is 'A', index 61 is '9'), most significant digit
// first and without leading zero digits. The mapping is injective, so two
// links can never share a code.
package shortcode

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const base = uint64(len(alphabet))

// maxLen is the length of Encode(math.MaxUint64).
const maxLen = 11

var valid [256]bool

func init() {
	for i := 0; i < len(alphabet); i++ {
		valid[alphabet[i]] = true
	}
}

// Encode returns the short code for id. Encode(0) is "A".
func Encode(id uint64) string {
	if id == 0 {
		return alphabet[:1]
	}

	var buf [maxLen]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = alphabet[id%base]
		id /= base
	}
	return string(buf[i:])
}

// IsValid reports whether code is non-empty and made only of alphabet
// characters. It does not check that the code has been issued.
func IsValid(code string) bool {
	if code == "" || len(code) > maxLen {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !valid[code[i]] {
			return false
		}
	}
	return true
}
