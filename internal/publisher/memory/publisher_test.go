package memory

import (
	"context"
	"testing"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	p := New()
	id, err := p.Publish(context.Background(), "dead-letters", map[string]int{"records": 2})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if id != "memory-1" {
		t.Fatalf("unexpected id %s", id)
	}
	msgs := p.Messages()
	if len(msgs) != 1 || msgs[0].Topic != "dead-letters" || string(msgs[0].Data) != `{"records":2}` {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	msgs[0].Topic = "mutated"
	if p.Messages()[0].Topic != "dead-letters" {
		t.Fatal("expected Messages to return a copy")
	}
}

func TestPublisherRejectsUnencodable(t *testing.T) {
	t.Parallel()

	if _, err := New().Publish(context.Background(), "t", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}
