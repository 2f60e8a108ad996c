package cart

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Item is a single cart line.
type Item struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unitPrice"`
	Quantity  int     `json:"quantity"`
}

// Snapshot is the read contract the checkout orchestrator depends on: the
// lines and the derived total, taken once per attempt.
type Snapshot struct {
	Items       []Item  `json:"items"`
	TotalAmount float64 `json:"totalAmount"`
}

// Store persists carts in Redis as one JSON document per cart id, written
// wholesale. Reads and writes happen from a single active checkout surface,
// so a list-then-write sequence is treated as one logical step.
type Store struct {
	R   *redis.Client
	TTL time.Duration
}

func cartKey(id string) string { return "cart:" + id }

// Snapshot loads the cart and computes its total.
func (s *Store) Snapshot(ctx context.Context, cartID string) (Snapshot, error) {
	items, err := s.load(ctx, cartID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Items: items, TotalAmount: Total(items)}, nil
}

// AddItem appends a line, or bumps the quantity when the product is already
// present.
func (s *Store) AddItem(ctx context.Context, cartID string, item Item) error {
	if item.ID == "" {
		return errors.New("cart: item id is required")
	}
	if item.Quantity <= 0 {
		item.Quantity = 1
	}
	items, err := s.load(ctx, cartID)
	if err != nil {
		return err
	}
	found := false
	for i := range items {
		if items[i].ID == item.ID {
			items[i].Quantity += item.Quantity
			found = true
			break
		}
	}
	if !found {
		items = append(items, item)
	}
	return s.save(ctx, cartID, items)
}

// UpdateQuantity sets a line's quantity; zero or negative removes the line.
func (s *Store) UpdateQuantity(ctx context.Context, cartID, itemID string, quantity int) error {
	if quantity <= 0 {
		return s.RemoveItem(ctx, cartID, itemID)
	}
	items, err := s.load(ctx, cartID)
	if err != nil {
		return err
	}
	for i := range items {
		if items[i].ID == itemID {
			items[i].Quantity = quantity
			break
		}
	}
	return s.save(ctx, cartID, items)
}

// RemoveItem drops a line. Removing an absent id is a no-op.
func (s *Store) RemoveItem(ctx context.Context, cartID, itemID string) error {
	items, err := s.load(ctx, cartID)
	if err != nil {
		return err
	}
	kept := items[:0]
	for _, item := range items {
		if item.ID != itemID {
			kept = append(kept, item)
		}
	}
	return s.save(ctx, cartID, kept)
}

// Clear empties the cart. Called when a pay-now attempt succeeds.
func (s *Store) Clear(ctx context.Context, cartID string) error {
	if s == nil || s.R == nil {
		return errors.New("cart: store not configured")
	}
	return s.R.Del(ctx, cartKey(cartID)).Err()
}

// Total sums unit price times quantity across lines, rounded to cents.
func Total(items []Item) float64 {
	var total float64
	for _, item := range items {
		total += item.UnitPrice * float64(item.Quantity)
	}
	return math.Round(total*100) / 100
}

func (s *Store) load(ctx context.Context, cartID string) ([]Item, error) {
	if s == nil || s.R == nil {
		return nil, errors.New("cart: store not configured")
	}
	if cartID == "" {
		return nil, errors.New("cart: cart id is required")
	}
	data, err := s.R.Get(ctx, cartKey(cartID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) save(ctx context.Context, cartID string, items []Item) error {
	if len(items) == 0 {
		return s.R.Del(ctx, cartKey(cartID)).Err()
	}
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return s.R.Set(ctx, cartKey(cartID), data, ttl).Err()
}
