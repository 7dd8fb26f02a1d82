package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
	"pgregory.net/rapid"
)

// testParams keeps Argon2 cheap enough for property tests
var testParams = Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32}

func newTestValidator() *PasswordValidator {
	return NewPasswordValidatorWithParams(testParams)
}

// Property: a password always verifies against its own hash
func TestProperty_HashVerifyRoundTrip(t *testing.T) {
	v := newTestValidator()
	rapid.Check(t, func(t *rapid.T) {
		password := rapid.StringN(1, 40, MaxPasswordLength).Draw(t, "password")

		record, err := v.HashPassword(password)
		if err != nil {
			t.Fatalf("HashPassword() error = %v", err)
		}
		if !v.VerifyPassword(password, record) {
			t.Errorf("VerifyPassword(%q) = false for its own hash", password)
		}
	})
}

// Property: a different password never verifies
func TestProperty_VerifyRejectsOtherPassword(t *testing.T) {
	v := newTestValidator()
	rapid.Check(t, func(t *rapid.T) {
		p1 := rapid.StringN(1, 30, MaxPasswordLength).Draw(t, "p1")
		p2 := rapid.StringN(1, 30, MaxPasswordLength).Draw(t, "p2")
		if p1 == p2 {
			t.Skip("equal passwords")
		}

		record, err := v.HashPassword(p2)
		if err != nil {
			t.Fatalf("HashPassword() error = %v", err)
		}
		if v.VerifyPassword(p1, record) {
			t.Errorf("VerifyPassword(%q) matched hash of %q", p1, p2)
		}
	})
}

// Property: hashing the same password twice yields different records
func TestProperty_HashUsesFreshSalt(t *testing.T) {
	v := newTestValidator()
	rapid.Check(t, func(t *rapid.T) {
		password := rapid.String().Draw(t, "password")

		a, _ := v.HashPassword(password)
		b, _ := v.HashPassword(password)
		if a == b {
			t.Errorf("two hashes of %q are identical", password)
		}
		saltA, _, _ := strings.Cut(a, "$")
		saltB, _, _ := strings.Cut(b, "$")
		if saltA == saltB {
			t.Error("salt reused")
		}
	})
}

// Property: malformed records fail closed without panicking
func TestProperty_VerifyMalformedRecord(t *testing.T) {
	v := newTestValidator()
	rapid.Check(t, func(t *rapid.T) {
		record := rapid.StringMatching(`[^$]*(\$[g-z]*)?`).Draw(t, "record")
		password := rapid.String().Draw(t, "password")
		if v.VerifyPassword(password, record) {
			t.Errorf("VerifyPassword accepted %q", record)
		}
	})

	for _, record := range []string{"", "$", "abc", "zz$00", "00$zz", "0011$", "$0011"} {
		if v.VerifyPassword("p1", record) {
			t.Errorf("VerifyPassword accepted malformed record %q", record)
		}
	}
}

func TestVerifyPassword_LegacySHA256Record(t *testing.T) {
	v := newTestValidator()
	saltHex := "00112233445566778899aabbccddeeff"
	sum := sha256.Sum256([]byte("p1" + saltHex))
	record := saltHex + "$" + hex.EncodeToString(sum[:])

	if !v.VerifyPassword("p1", record) {
		t.Error("legacy record did not verify")
	}
	if v.VerifyPassword("p2", record) {
		t.Error("legacy record verified wrong password")
	}
}

func TestVerifyPassword_Bcrypt(t *testing.T) {
	v := newTestValidator()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if !v.VerifyPassword("secret", string(hash)) {
		t.Error("bcrypt hash did not verify")
	}
	if v.VerifyPassword("other", string(hash)) {
		t.Error("bcrypt hash verified wrong password")
	}
}

func TestValidatePassword(t *testing.T) {
	v := newTestValidator()
	if !v.IsValidPassword("p1") {
		t.Error("short passwords are accepted")
	}
	if v.IsValidPassword("") {
		t.Error("empty password should be rejected")
	}
	if v.IsValidPassword(strings.Repeat("a", MaxPasswordLength+1)) {
		t.Error("overlong password should be rejected")
	}
}
