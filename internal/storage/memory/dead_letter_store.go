package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/realtime-price-scraper/internal/scraper"
)

// DeadLetterStore keeps abandoned batches in memory.
type DeadLetterStore struct {
	mu      sync.RWMutex
	letters []scraper.DeadLetter
}

// NewDeadLetterStore creates an empty store.
func NewDeadLetterStore() *DeadLetterStore {
	return &DeadLetterStore{}
}

// SaveDeadLetter appends the letter.
func (s *DeadLetterStore) SaveDeadLetter(_ context.Context, letter scraper.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, letter)
	return nil
}

// Letters returns a copy of the stored letters.
func (s *DeadLetterStore) Letters() []scraper.DeadLetter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scraper.DeadLetter, len(s.letters))
	copy(out, s.letters)
	return out
}
