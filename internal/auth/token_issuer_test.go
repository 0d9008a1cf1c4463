package auth

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type sequentialIDProvider struct {
	counter int64
}

func (p *sequentialIDProvider) NewID() (string, error) {
	return fmt.Sprintf("jti-%d", atomic.AddInt64(&p.counter, 1)), nil
}

type staticRevocations map[string]bool

func (r staticRevocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	return r[tokenID], nil
}

func newTestIssuer(revocations Revocations) *TokenIssuer {
	return NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "beenaround-auth",
		Audience:      "beenaround-api",
		TokenTTL:      30 * time.Minute,
		IDProvider:    &sequentialIDProvider{},
		Revocations:   revocations,
	})
}

func TestTokenIssuerIssuesTokensWithRegisteredClaims(t *testing.T) {
	issuer := newTestIssuer(nil)

	tokenString, expiresIn, err := issuer.IssueToken(context.Background(), "user-123")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn <= 0 {
		t.Fatalf("expected positive expiry seconds, got %d", expiresIn)
	}

	parser := jwt.Parser{}
	claims := &jwt.RegisteredClaims{}
	_, err = parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}

	if claims.Subject != "user-123" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Issuer != "beenaround-auth" {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != "beenaround-api" {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
	if claims.ID == "" {
		t.Fatalf("expected a jti on the issued token")
	}
}

func TestTokenIssuerValidatesIssuedTokens(t *testing.T) {
	issuer := newTestIssuer(nil)

	tokenString, _, err := issuer.IssueToken(context.Background(), "user-321")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	claims, err := issuer.ValidateToken(context.Background(), tokenString)
	if err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	if claims.Subject != "user-321" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.TokenID == "" {
		t.Fatalf("expected token id in validated claims")
	}
	if claims.ExpiresAt.IsZero() {
		t.Fatalf("expected expiry in validated claims")
	}

	if _, err := issuer.ValidateToken(context.Background(), "invalid.token"); err == nil {
		t.Fatalf("expected validation to fail for malformed token")
	}
}

func TestTokenIssuerRejectsRevokedTokens(t *testing.T) {
	revocations := staticRevocations{}
	issuer := newTestIssuer(revocations)

	tokenString, _, err := issuer.IssueToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	claims, err := issuer.ValidateToken(context.Background(), tokenString)
	if err != nil {
		t.Fatalf("expected validation success before revocation: %v", err)
	}

	revocations[claims.TokenID] = true
	if _, err := issuer.ValidateToken(context.Background(), tokenString); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
}

func TestTokenIssuerRejectsExpiredTokens(t *testing.T) {
	issueTime := time.Unix(1750000000, 0)
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "beenaround-auth",
		Audience:      "beenaround-api",
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return issueTime },
		IDProvider:    &sequentialIDProvider{},
	})

	tokenString, _, err := issuer.IssueToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	late := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "beenaround-auth",
		Audience:      "beenaround-api",
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return issueTime.Add(2 * time.Minute) },
		IDProvider:    &sequentialIDProvider{},
	})
	if _, err := late.ValidateToken(context.Background(), tokenString); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected jwt.ErrTokenExpired, got %v", err)
	}
}

func TestTokenIssuerRejectsWrongAudience(t *testing.T) {
	issuer := newTestIssuer(nil)
	other := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "beenaround-auth",
		Audience:      "some-other-api",
		TokenTTL:      30 * time.Minute,
		IDProvider:    &sequentialIDProvider{},
	})

	tokenString, _, err := issuer.IssueToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	if _, err := other.ValidateToken(context.Background(), tokenString); err == nil {
		t.Fatalf("expected validation to fail for wrong audience")
	}
}
