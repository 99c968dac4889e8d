package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testClaims(exp int64) Claims {
	return Claims{Sub: "usr_1", Name: "Ada", Role: "editor", JTI: "jti_1", Exp: exp}
}

func TestIssueParseRoundTrip(t *testing.T) {
	signer := NewSigner("test-secret")

	token, err := signer.Issue(testClaims(time.Now().Add(time.Hour).Unix()))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := signer.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Sub != "usr_1" || claims.Name != "Ada" || claims.Role != "editor" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestParseRejectsTampering(t *testing.T) {
	signer := NewSigner("test-secret")
	token, err := signer.Issue(testClaims(time.Now().Add(time.Hour).Unix()))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	cases := map[string]string{
		"garbage":         "not-a-token",
		"missing dot":     strings.ReplaceAll(token, ".", ""),
		"flipped payload": "x" + token,
		"flipped sig":     token[:len(token)-1] + "x",
	}
	for name, bad := range cases {
		if _, err := signer.Parse(bad); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: err = %v, want ErrInvalidToken", name, err)
		}
	}

	other := NewSigner("other-secret")
	if _, err := other.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong secret: err = %v, want ErrInvalidToken", err)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	signer := NewSigner("test-secret")
	token, err := signer.Issue(testClaims(time.Now().Add(-time.Minute).Unix()))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := signer.Parse(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("err = %v, want ErrExpiredToken", err)
	}
}

func TestNewRefreshTokenUnique(t *testing.T) {
	first, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}
	second, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}
	if first == second {
		t.Fatal("refresh tokens not unique")
	}
	if HashToken(first) == first {
		t.Fatal("HashToken returned the raw token")
	}
}
