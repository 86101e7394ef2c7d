package auth

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testClaims() Claims {
	return Claims{
		Name:             "Avery",
		Role:             "editor",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}
}

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, testClaims(), time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "user-1" || claims.Name != "Avery" || claims.Role != "editor" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	claims := testClaims()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	issued, err := IssueToken(secret, claims, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	_, err = ParseToken(secret, issued)
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("ParseToken() error = %v, want %v", err, ErrExpiredToken)
	}
}

func TestParseTokenRejectsInvalid(t *testing.T) {
	secret := []byte("secret")
	valid, err := IssueToken(secret, testClaims(), time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	noExpiry, err := IssueToken(secret, testClaims(), 0)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	anonymous := testClaims()
	anonymous.Name = ""
	noName, err := IssueToken(secret, anonymous, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, testClaims()).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	parts := strings.Split(valid, ".")
	forged := parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"user-1","name":"Avery","role":"admin","exp":9999999999}`)) + "." + parts[2]

	cases := []struct {
		name   string
		secret []byte
		token  string
	}{
		{name: "wrong secret", secret: []byte("other"), token: valid},
		{name: "garbage", secret: secret, token: "not-a-token"},
		{name: "tampered", secret: secret, token: forged},
		{name: "missing expiry", secret: secret, token: noExpiry},
		{name: "missing name", secret: secret, token: noName},
		{name: "alg none", secret: secret, token: unsigned},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseToken(tc.secret, tc.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("ParseToken() error = %v, want %v", err, ErrInvalidToken)
			}
		})
	}
}
