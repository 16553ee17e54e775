package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrExpired  = errors.New("otp expired or not issued")
	ErrMismatch = errors.New("otp does not match")
)

// Store keeps one-time codes in Redis with a TTL, so codes survive process
// restarts and expire without a sweeper.
type Store struct {
	RDB *redis.Client
	TTL time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Store{RDB: rdb, TTL: ttl}
}

func key(email string) string { return "otp:" + email }

// Issue generates a six digit code for the email, replacing any outstanding
// one, and returns it for delivery.
func (s *Store) Issue(ctx context.Context, email string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	code := fmt.Sprintf("%06d", n.Int64())
	if err := s.RDB.Set(ctx, key(email), code, s.TTL).Err(); err != nil {
		return "", err
	}
	return code, nil
}

// Verify consumes the code: a correct code is deleted on the spot so it
// cannot be replayed, a wrong one stays until its TTL runs out.
func (s *Store) Verify(ctx context.Context, email, code string) error {
	stored, err := s.RDB.Get(ctx, key(email)).Result()
	if err == redis.Nil {
		return ErrExpired
	}
	if err != nil {
		return err
	}
	if stored != code {
		return ErrMismatch
	}
	return s.RDB.Del(ctx, key(email)).Err()
}
