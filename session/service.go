package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/nacl/secretbox"
)

var (
	// ErrInvalidToken signals a session token that failed verification.
	ErrInvalidToken = errors.New("session: invalid token")
	// ErrSealedToken signals a stored credential that could not be opened,
	// usually after a key rotation without re-auth.
	ErrSealedToken = errors.New("session: cannot open sealed token")
)

// Service stores shop sessions with the access credential sealed at rest
// and verifies inbound session tokens issued by the host platform.
type Service struct {
	repo      Repository
	appSecret []byte
	sealKey   [32]byte
	idGen     func() string
}

// NewService builds a session service. appSecret signs inbound session
// tokens (HS256); sealKey is the 32-byte secretbox key for credentials at
// rest.
func NewService(repo Repository, appSecret string, sealKey [32]byte) *Service {
	return &Service{
		repo:      repo,
		appSecret: []byte(appSecret),
		sealKey:   sealKey,
		idGen:     func() string { return uuid.NewString() },
	}
}

// WithIDGenerator overrides session id generation, used by tests.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

// Save seals the access token and persists the session, replacing any
// previous session for the shop.
func (s *Service) Save(ctx context.Context, params SaveParams) (Session, error) {
	if params.Shop == "" {
		return Session{}, fmt.Errorf("session: shop required")
	}
	if params.AccessToken == "" {
		return Session{}, fmt.Errorf("session: access token required")
	}

	sealed, err := s.seal(params.AccessToken)
	if err != nil {
		return Session{}, err
	}

	stored, err := s.repo.Upsert(ctx, Session{
		ID:          s.idGen(),
		Shop:        params.Shop,
		AccessToken: sealed,
		Scope:       params.Scope,
		IsOnline:    params.IsOnline,
	})
	if err != nil {
		return Session{}, err
	}

	stored.AccessToken = params.AccessToken
	return stored, nil
}

// Get returns the session for a shop with the access token opened.
func (s *Service) Get(ctx context.Context, shop string) (Session, error) {
	sess, err := s.repo.GetByShop(ctx, shop)
	if err != nil {
		return Session{}, err
	}

	token, err := s.open(sess.AccessToken)
	if err != nil {
		return Session{}, err
	}
	sess.AccessToken = token
	return sess, nil
}

// Delete removes a single session.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// DeleteByShop removes every session for the shop, reporting the count.
// Called from the uninstall cascade.
func (s *Service) DeleteByShop(ctx context.Context, shop string) (int, error) {
	return s.repo.DeleteByShop(ctx, shop)
}

// VerifyToken validates a host-platform session token and returns the shop
// domain it was issued for.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.appSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	dest, ok := claims["dest"].(string)
	if !ok || dest == "" {
		return "", fmt.Errorf("%w: missing dest claim", ErrInvalidToken)
	}

	shop := strings.TrimPrefix(dest, "https://")
	shop = strings.TrimSuffix(shop, "/")
	if shop == "" {
		return "", fmt.Errorf("%w: empty shop in dest claim", ErrInvalidToken)
	}
	return shop, nil
}

func (s *Service) seal(plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("session: seal nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.sealKey)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *Service) open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < 24 {
		return "", ErrSealedToken
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	opened, ok := secretbox.Open(nil, raw[24:], &nonce, &s.sealKey)
	if !ok {
		return "", ErrSealedToken
	}
	return string(opened), nil
}
