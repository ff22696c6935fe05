package tokens

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// DefaultTTL is how long an issued download link stays redeemable.
const DefaultTTL = 30 * time.Minute

const tokenBytes = 16

var (
	ErrNotFound      = errors.New("token not found")
	ErrOwnerMismatch = errors.New("token belongs to another user")
	ErrExpired       = errors.New("token expired")
	ErrConsumed      = errors.New("token already used")
)

type Record struct {
	Token      string     `bson:"_id" json:"token"`
	UserID     int64      `bson:"user_id" json:"user_id"`
	MovieCode  string     `bson:"movie_code" json:"movie_code"`
	Part       int        `bson:"part" json:"part"`
	Quality    string     `bson:"quality" json:"quality"`
	CreatedAt  time.Time  `bson:"created_at" json:"created_at"`
	ConsumedAt *time.Time `bson:"consumed_at,omitempty" json:"consumed_at,omitempty"`
}

// Store persists token records. Consume must check and mark the record as
// used in one atomic step: of two concurrent calls for the same token at
// most one may return a nil error.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	Consume(ctx context.Context, token string, userID int64, now time.Time, ttl time.Duration) (*Record, error)
	Release(ctx context.Context, token string) error
}

// Check reports whether rec may be redeemed by userID at now.
func Check(rec *Record, userID int64, now time.Time, ttl time.Duration) error {
	if rec == nil {
		return ErrNotFound
	}
	if rec.UserID != userID {
		return ErrOwnerMismatch
	}
	if !now.Before(rec.CreatedAt.Add(ttl)) {
		return ErrExpired
	}
	if rec.ConsumedAt != nil {
		return ErrConsumed
	}
	return nil
}

type Service struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

func NewService(store Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{store: store, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) TTL() time.Duration { return s.ttl }

func (s *Service) CreateToken(ctx context.Context, userID int64, movieCode string, part int, quality string) (string, error) {
	if part < 1 {
		part = 1
	}
	tok, err := newToken()
	if err != nil {
		return "", err
	}
	rec := Record{
		Token:     tok,
		UserID:    userID,
		MovieCode: movieCode,
		Part:      part,
		Quality:   quality,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return tok, nil
}

// VerifyToken redeems token for userID. On success the token is consumed.
func (s *Service) VerifyToken(ctx context.Context, token string, userID int64) (*Record, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return s.store.Consume(ctx, token, userID, s.now().UTC(), s.ttl)
}

// Release makes a consumed token redeemable again until it expires.
func (s *Service) Release(ctx context.Context, token string) error {
	return s.store.Release(ctx, token)
}

// IsCredentialError reports whether err means the link itself is no longer
// usable, as opposed to a storage failure.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrOwnerMismatch) ||
		errors.Is(err, ErrExpired) || errors.Is(err, ErrConsumed)
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
