package history

import (
	"context"
	"errors"
	"testing"
	"time"
)

// stepClock hands out strictly increasing timestamps one second apart.
type stepClock struct {
	current time.Time
}

func newStepClock() *stepClock {
	return &stepClock{current: time.Unix(1_700_000_000, 0)}
}

func (c *stepClock) Now() time.Time {
	c.current = c.current.Add(time.Second)
	return c.current
}

// runStoreContract asserts the Store pre/post-conditions both backends share.
func runStoreContract(t *testing.T, newStore func(t *testing.T, clock *stepClock) Store) {
	t.Helper()

	t.Run("recent returns ascending order", func(t *testing.T) {
		store := newStore(t, newStepClock())
		ctx := context.Background()

		for _, content := range []string{"first", "second", "third"} {
			if err := store.Insert(ctx, "ada", content); err != nil {
				t.Fatalf("unexpected insert error: %v", err)
			}
		}

		messages, err := store.Recent(ctx, 10)
		if err != nil {
			t.Fatalf("unexpected recent error: %v", err)
		}
		if len(messages) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(messages))
		}
		for index, expected := range []string{"first", "second", "third"} {
			if messages[index].Content != expected {
				t.Fatalf("expected content %q at index %d, got %q", expected, index, messages[index].Content)
			}
		}
		for index := 1; index < len(messages); index++ {
			if messages[index-1].SentAt > messages[index].SentAt {
				t.Fatalf("expected non-decreasing timestamps, got %v then %v",
					messages[index-1].SentAt, messages[index].SentAt)
			}
		}
	})

	t.Run("recent truncates to newest limit", func(t *testing.T) {
		store := newStore(t, newStepClock())
		ctx := context.Background()

		for _, content := range []string{"first", "second", "third"} {
			if err := store.Insert(ctx, "ada", content); err != nil {
				t.Fatalf("unexpected insert error: %v", err)
			}
		}

		messages, err := store.Recent(ctx, 2)
		if err != nil {
			t.Fatalf("unexpected recent error: %v", err)
		}
		if len(messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(messages))
		}
		if messages[0].Content != "second" || messages[1].Content != "third" {
			t.Fatalf("expected the newest two messages in ascending order, got %q then %q",
				messages[0].Content, messages[1].Content)
		}
	})

	t.Run("recent rejects non-positive limit", func(t *testing.T) {
		store := newStore(t, newStepClock())

		if _, err := store.Recent(context.Background(), 0); !errors.Is(err, ErrInvalidLimit) {
			t.Fatalf("expected ErrInvalidLimit, got %v", err)
		}
	})

	t.Run("empty store yields no messages", func(t *testing.T) {
		store := newStore(t, newStepClock())

		messages, err := store.Recent(context.Background(), 10)
		if err != nil {
			t.Fatalf("unexpected recent error: %v", err)
		}
		if len(messages) != 0 {
			t.Fatalf("expected no messages, got %d", len(messages))
		}
	})
}
