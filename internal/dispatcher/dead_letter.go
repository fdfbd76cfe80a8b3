package dispatcher

import (
	"context"
	"fmt"

	"github.com/JakeFAU/realtime-price-scraper/internal/scraper"
)

// PublishingDeadLetterStore publishes abandoned batches to a topic.
type PublishingDeadLetterStore struct {
	Publisher scraper.Publisher
	Topic     string
}

// SaveDeadLetter publishes letter as JSON.
func (s PublishingDeadLetterStore) SaveDeadLetter(ctx context.Context, letter scraper.DeadLetter) error {
	if s.Publisher == nil {
		return fmt.Errorf("dead letter publisher is not configured")
	}
	if _, err := s.Publisher.Publish(ctx, s.Topic, letter); err != nil {
		return fmt.Errorf("publish dead letter for batch %s: %w", letter.Batch.BatchID, err)
	}
	return nil
}

var _ scraper.DeadLetterStore = PublishingDeadLetterStore{}
