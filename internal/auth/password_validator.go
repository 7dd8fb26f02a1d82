package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	// MaxPasswordLength bounds the password in bytes
	MaxPasswordLength = 128
	// SaltLength is the number of random salt bytes per hash
	SaltLength = 16
	// recordSeparator splits salt and digest in a stored record
	recordSeparator = "$"
)

// PasswordValidationError represents a specific password validation failure
type PasswordValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Argon2Params are the Argon2id cost parameters. They are not encoded in
// the stored record, so every hasher sharing a database must agree on them.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
}

// DefaultArgon2Params are the production cost parameters
var DefaultArgon2Params = Argon2Params{
	Time:    1,
	Memory:  64 * 1024,
	Threads: 4,
	KeyLen:  32,
}

// PasswordValidator handles password validation and hashing
type PasswordValidator struct {
	params Argon2Params
}

// NewPasswordValidator creates a PasswordValidator with default parameters
func NewPasswordValidator() *PasswordValidator {
	return NewPasswordValidatorWithParams(DefaultArgon2Params)
}

// NewPasswordValidatorWithParams creates a PasswordValidator with custom cost
func NewPasswordValidatorWithParams(params Argon2Params) *PasswordValidator {
	return &PasswordValidator{params: params}
}

// ValidatePassword checks the password is present and bounded.
// Returns a list of validation errors (empty if password is valid).
func (v *PasswordValidator) ValidatePassword(password string) []PasswordValidationError {
	var errors []PasswordValidationError

	if password == "" {
		errors = append(errors, PasswordValidationError{
			Field:   "password",
			Message: "Password is required",
		})
	}
	if len(password) > MaxPasswordLength {
		errors = append(errors, PasswordValidationError{
			Field:   "password",
			Message: "Password must be at most 128 bytes long",
		})
	}

	return errors
}

// IsValidPassword returns true if the password meets all requirements
func (v *PasswordValidator) IsValidPassword(password string) bool {
	return len(v.ValidatePassword(password)) == 0
}

// HashPassword returns hex(salt) + "$" + hex(argon2id(password, salt)).
// A fresh random salt is drawn on every call.
func (v *PasswordValidator) HashPassword(password string) (string, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	digest := v.digest(password, salt)
	return hex.EncodeToString(salt) + recordSeparator + hex.EncodeToString(digest), nil
}

func (v *PasswordValidator) digest(password string, salt []byte) []byte {
	p := v.params
	return argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
}

// VerifyPassword reports whether password matches the stored record. It
// never panics and returns false for any malformed record.
//
// Accepted records:
//   - hex(salt)$hex(argon2id digest)
//   - hex(salt)$hex(sha256(password + hex salt)), written by earlier deployments
//   - bcrypt hashes ($2a$, $2b$, $2y$)
func (v *PasswordValidator) VerifyPassword(password, record string) bool {
	if isBcrypt(record) {
		return bcrypt.CompareHashAndPassword([]byte(record), []byte(password)) == nil
	}

	saltHex, digestHex, ok := strings.Cut(record, recordSeparator)
	if !ok || saltHex == "" || digestHex == "" {
		return false
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(digestHex)
	if err != nil {
		return false
	}

	if uint32(len(want)) == v.params.KeyLen &&
		subtle.ConstantTimeCompare(v.digest(password, salt), want) == 1 {
		return true
	}

	legacy := sha256.Sum256([]byte(password + saltHex))
	return len(want) == len(legacy) && subtle.ConstantTimeCompare(legacy[:], want) == 1
}

func isBcrypt(record string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(record, prefix) {
			return true
		}
	}
	return false
}
