package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testKey() [32]byte {
	var key [32]byte
	copy(key[:], "0123456789abcdef0123456789abcdef")
	return key
}

func TestSaveAndGet_RoundTripsAccessToken(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "app-secret", testKey())
	ctx := context.Background()

	saved, err := svc.Save(ctx, SaveParams{
		Shop:        "demo.myshopify.com",
		AccessToken: "shpat_abc123",
		Scope:       "read_orders",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.AccessToken != "shpat_abc123" {
		t.Errorf("save should echo the plaintext token, got %q", saved.AccessToken)
	}

	got, err := svc.Get(ctx, "demo.myshopify.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AccessToken != "shpat_abc123" {
		t.Errorf("expected opened token, got %q", got.AccessToken)
	}
	if got.Shop != "demo.myshopify.com" || got.Scope != "read_orders" {
		t.Errorf("unexpected session fields: %+v", got)
	}
}

func TestSave_TokenSealedAtRest(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, "app-secret", testKey())

	if _, err := svc.Save(context.Background(), SaveParams{
		Shop:        "demo.myshopify.com",
		AccessToken: "shpat_abc123",
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	stored, err := repo.GetByShop(context.Background(), "demo.myshopify.com")
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if stored.AccessToken == "shpat_abc123" {
		t.Fatalf("access token stored in plaintext")
	}
}

func TestGet_WrongKeyFailsToOpen(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, "app-secret", testKey())

	if _, err := svc.Save(context.Background(), SaveParams{
		Shop:        "demo.myshopify.com",
		AccessToken: "shpat_abc123",
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	var other [32]byte
	copy(other[:], "ffffffffffffffffffffffffffffffff")
	rotated := NewService(repo, "app-secret", other)

	if _, err := rotated.Get(context.Background(), "demo.myshopify.com"); !errors.Is(err, ErrSealedToken) {
		t.Fatalf("expected ErrSealedToken, got %v", err)
	}
}

func TestVerifyToken_ValidToken(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "app-secret", testKey())

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"dest": "https://demo.myshopify.com",
		"exp":  time.Now().Add(time.Minute).Unix(),
		"iat":  time.Now().Unix(),
	})
	signed, err := token.SignedString([]byte("app-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	shop, err := svc.VerifyToken(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if shop != "demo.myshopify.com" {
		t.Errorf("expected shop demo.myshopify.com, got %q", shop)
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "app-secret", testKey())

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"dest": "https://demo.myshopify.com",
		"exp":  time.Now().Add(time.Minute).Unix(),
	})
	signed, err := token.SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := svc.VerifyToken(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyToken_MissingDest(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "app-secret", testKey())

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	signed, err := token.SignedString([]byte("app-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := svc.VerifyToken(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestDeleteByShop(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "app-secret", testKey())
	ctx := context.Background()

	if _, err := svc.Save(ctx, SaveParams{Shop: "demo.myshopify.com", AccessToken: "tok"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	n, err := svc.DeleteByShop(ctx, "demo.myshopify.com")
	if err != nil {
		t.Fatalf("delete by shop: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted, got %d", n)
	}

	if _, err := svc.Get(ctx, "demo.myshopify.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
