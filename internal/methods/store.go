package methods

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/fwdshop/checkout/internal/payment"
)

// Store keeps each account's saved payment methods in Redis as a single JSON
// array, read and written wholesale. Insertion order is preserved; duplicate
// ids are allowed to accumulate, and Remove clears every record carrying the
// id in one pass.
type Store struct {
	R   *redis.Client
	TTL time.Duration
}

func methodsKey(accountID string) string { return "stored_methods:" + accountID }

// List returns the account's saved methods in the order they were appended.
// A missing key yields an empty list.
func (s *Store) List(ctx context.Context, accountID string) ([]payment.StoredPaymentMethod, error) {
	if s == nil || s.R == nil {
		return nil, errors.New("methods: store not configured")
	}
	if accountID == "" {
		return nil, errors.New("methods: account id is required")
	}
	data, err := s.R.Get(ctx, methodsKey(accountID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var records []payment.StoredPaymentMethod
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Append adds a record to the end of the account's list. It does not
// deduplicate: storing the same method twice yields two entries.
func (s *Store) Append(ctx context.Context, accountID string, record payment.StoredPaymentMethod) error {
	records, err := s.List(ctx, accountID)
	if err != nil {
		return err
	}
	records = append(records, record)
	return s.save(ctx, accountID, records)
}

// Remove deletes every record with the given id. Removing an unknown id
// succeeds without changing the list.
func (s *Store) Remove(ctx context.Context, accountID, methodID string) error {
	records, err := s.List(ctx, accountID)
	if err != nil {
		return err
	}
	kept := records[:0]
	for _, record := range records {
		if record.ID != methodID {
			kept = append(kept, record)
		}
	}
	return s.save(ctx, accountID, kept)
}

func (s *Store) save(ctx context.Context, accountID string, records []payment.StoredPaymentMethod) error {
	key := methodsKey(accountID)
	if len(records) == 0 {
		return s.R.Del(ctx, key).Err()
	}
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return s.R.Set(ctx, key, data, ttl).Err()
}
