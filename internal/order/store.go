package order

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type Item struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Price       Cents    `json:"price"`
	Ingredients []string `json:"ingredients,omitempty"`
}

// Store is the authoritative in-memory order. Every mutation is a single
// locked step, so readers never observe a half-applied change.
type Store struct {
	mu    sync.RWMutex
	items []Item
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Add(name string, price Cents, ingredients []string) Item {
	it := Item{
		ID:    uuid.NewString(),
		Name:  name,
		Price: price,
	}
	if len(ingredients) > 0 {
		it.Ingredients = append([]string(nil), ingredients...)
	}
	s.mu.Lock()
	s.items = append(s.items, it)
	s.mu.Unlock()
	return it
}

// RemoveFirst drops the earliest item whose name matches case-insensitively.
func (s *Store) RemoveFirst(name string) (Item, bool) {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, it := range s.items {
		if strings.EqualFold(it.Name, name) {
			s.items = append(s.items[:i:i], s.items[i+1:]...)
			return it, true
		}
	}
	return Item{}, false
}

func (s *Store) Total() Cents {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total Cents
	for _, it := range s.items {
		total += it.Price
	}
	return total
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()
}

// Describe renders the order for an image prompt, e.g.
// "BURGER, STACK (2) containing cheese, onion".
func (s *Store) Describe() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parts := make([]string, 0, len(s.items))
	for _, it := range s.items {
		if len(it.Ingredients) > 0 {
			parts = append(parts, fmt.Sprintf("%s containing %s", it.Name, strings.Join(it.Ingredients, ", ")))
			continue
		}
		parts = append(parts, it.Name)
	}
	return strings.Join(parts, ", ")
}
