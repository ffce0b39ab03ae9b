package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"math/big"

	"golang.org/x/crypto/pbkdf2"
)

var ErrRandomSource = errors.New("secure random source unavailable")

const (
	saltLen    = 32
	keyLen     = 32
	iterations = 100000

	DefaultPasswordLen = 16
	DefaultCodeLen     = 8
	MinPasswordLen     = 8

	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789" +
		"!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
	accessCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Vault provides credential hashing, verification and generation.
type Vault interface {
	HashPassword(password string) (string, error)
	VerifyPassword(storedHash, password string) bool
	GeneratePassword(length int) (string, error)
	GenerateAccessCode(length int) (string, error)
}

type pbkdf2Vault struct{}

// NewVault creates a credential vault backed by PBKDF2-HMAC-SHA256.
func NewVault() Vault {
	return &pbkdf2Vault{}
}

// HashPassword derives a key from the password with a fresh random salt and
// returns base64(salt || key).
func (v *pbkdf2Vault) HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", ErrRandomSource
	}

	key := pbkdf2.Key([]byte(password), salt, iterations, keyLen, sha256.New)
	return base64.StdEncoding.EncodeToString(append(salt, key...)), nil
}

// VerifyPassword re-derives the key with the stored salt and compares in
// constant time. A malformed stored hash is a failed verification, not an
// error.
func (v *pbkdf2Vault) VerifyPassword(storedHash, password string) bool {
	decoded, err := base64.StdEncoding.DecodeString(storedHash)
	if err != nil || len(decoded) != saltLen+keyLen {
		return false
	}

	salt := decoded[:saltLen]
	storedKey := decoded[saltLen:]
	key := pbkdf2.Key([]byte(password), salt, iterations, keyLen, sha256.New)

	return subtle.ConstantTimeCompare(storedKey, key) == 1
}

// GeneratePassword draws length characters uniformly from letters, digits
// and punctuation.
func (v *pbkdf2Vault) GeneratePassword(length int) (string, error) {
	if length <= 0 {
		length = DefaultPasswordLen
	}
	return randomString(passwordAlphabet, length)
}

// GenerateAccessCode draws length characters from uppercase letters and
// digits. Uniqueness against live codes is the caller's responsibility.
func (v *pbkdf2Vault) GenerateAccessCode(length int) (string, error) {
	if length <= 0 {
		length = DefaultCodeLen
	}
	return randomString(accessCodeAlphabet, length)
}

func randomString(alphabet string, length int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", ErrRandomSource
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
