package cart

import (
	"encoding/json"
	"errors"
	"sort"
	"time"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrItemNotFound    = errors.New("cart item not found")
)

// Key identifies a cart line. The same product in another size or color is a
// separate line.
type Key struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Color     string `json:"color"`
}

type Item struct {
	ProductID string    `json:"productId"`
	Size      string    `json:"size"`
	Color     string    `json:"color"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"addedAt"`
}

func (i Item) Key() Key { return Key{ProductID: i.ProductID, Size: i.Size, Color: i.Color} }

type Cart struct {
	UserID string
	Items  map[Key]Item
}

func New(userID string) *Cart {
	return &Cart{UserID: userID, Items: map[Key]Item{}}
}

// Put inserts the line or replaces the quantity of an existing one.
func (c *Cart) Put(it Item) (Item, bool, error) {
	if it.Quantity < 1 {
		return Item{}, false, ErrInvalidQuantity
	}
	prev, exists := c.Items[it.Key()]
	if exists {
		it.AddedAt = prev.AddedAt
	} else if it.AddedAt.IsZero() {
		it.AddedAt = time.Now().UTC()
	}
	c.Items[it.Key()] = it
	return it, !exists, nil
}

// Add merges the quantity into an existing line.
func (c *Cart) Add(it Item) (Item, error) {
	if it.Quantity < 1 {
		return Item{}, ErrInvalidQuantity
	}
	if prev, ok := c.Items[it.Key()]; ok {
		it.Quantity += prev.Quantity
	}
	out, _, err := c.Put(it)
	return out, err
}

func (c *Cart) Remove(k Key) bool {
	if _, ok := c.Items[k]; !ok {
		return false
	}
	delete(c.Items, k)
	return true
}

// List returns the lines oldest first.
func (c *Cart) List() []Item {
	out := make([]Item, 0, len(c.Items))
	for _, it := range c.Items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		a, b := out[i].Key(), out[j].Key()
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		if a.Size != b.Size {
			return a.Size < b.Size
		}
		return a.Color < b.Color
	})
	return out
}

func (c *Cart) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		UserID string `json:"userId"`
		Items  []Item `json:"items"`
	}{c.UserID, c.List()})
}
