// Package redis keeps completed payment initiations for idempotent replay.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	goredis "github.com/redis/go-redis/v9"

	"github.com/lois2311/pyro-backend/internal/domain/payment"
)

const (
	keyPrefix = "pyro:idem:payment:"
	// DefaultTTL matches the window in which clients are expected to retry.
	DefaultTTL = 24 * time.Hour
)

var _ payment.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore implements payment.IdempotencyStore on Redis.
type IdempotencyStore struct {
	rdb goredis.Cmdable
	ttl time.Duration
}

// NewClient connects to addr.
func NewClient(addr, password string, db int) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// NewIdempotencyStore creates a store. A non-positive ttl uses DefaultTTL.
func NewIdempotencyStore(rdb goredis.Cmdable, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

// Load returns the transaction saved under key.
func (s *IdempotencyStore) Load(ctx context.Context, key string) (*payment.Transaction, bool, error) {
	raw, err := s.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get")
	}
	tx, err := decodeTransaction(raw)
	if err != nil {
		return nil, false, errors.Wrap(err, "decode idempotency record")
	}
	return tx, true, nil
}

// Save stores tx under key. An existing record is kept.
func (s *IdempotencyStore) Save(ctx context.Context, key string, tx *payment.Transaction) error {
	if err := s.rdb.SetNX(ctx, keyPrefix+key, encodeTransaction(tx), s.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis setnx")
	}
	return nil
}

// Ping checks connectivity.
func (s *IdempotencyStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func encodeTransaction(tx *payment.Transaction) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Str(tx.ID)
	e.FieldStart("status")
	e.Str(tx.Status)
	if len(tx.Raw) > 0 {
		e.FieldStart("raw")
		e.Base64(tx.Raw)
	}
	e.ObjEnd()
	return e.Bytes()
}

func decodeTransaction(data []byte) (*payment.Transaction, error) {
	tx := &payment.Transaction{}
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			tx.ID, err = d.Str()
		case "status":
			tx.Status, err = d.Str()
		case "raw":
			tx.Raw, err = d.Base64()
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if tx.ID == "" {
		return nil, errors.New("record without transaction id")
	}
	return tx, nil
}
