package subscription

import (
	"context"
	"errors"
	"testing"
)

func testRecord(userID, endpoint string) Record {
	return Record{
		Endpoint:  endpoint,
		AuthKey:   "auth-" + userID,
		P256dhKey: "p256dh-" + userID,
		UserID:    userID,
	}
}

// runStoreContract asserts the Store pre/post-conditions both backends share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	t.Run("insert then subscribed check", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		if err := store.Insert(ctx, testRecord("u1", "https://push.example/u1")); err != nil {
			t.Fatalf("unexpected insert error: %v", err)
		}

		subscribed, err := store.IsSubscribed(ctx, "u1")
		if err != nil {
			t.Fatalf("unexpected check error: %v", err)
		}
		if !subscribed {
			t.Fatal("expected u1 to be subscribed")
		}

		subscribed, err = store.IsSubscribed(ctx, "u2")
		if err != nil {
			t.Fatalf("unexpected check error: %v", err)
		}
		if subscribed {
			t.Fatal("expected u2 to not be subscribed")
		}
	})

	t.Run("remove without subscriptions reports not found", func(t *testing.T) {
		store := newStore(t)

		if err := store.Remove(context.Background(), "u1"); !errors.Is(err, ErrNoSubscriptions) {
			t.Fatalf("expected ErrNoSubscriptions, got %v", err)
		}
	})

	t.Run("remove deletes all records for the user", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		if err := store.Insert(ctx, testRecord("u1", "https://push.example/u1")); err != nil {
			t.Fatalf("unexpected insert error: %v", err)
		}
		if err := store.Remove(ctx, "u1"); err != nil {
			t.Fatalf("unexpected remove error: %v", err)
		}

		subscribed, err := store.IsSubscribed(ctx, "u1")
		if err != nil {
			t.Fatalf("unexpected check error: %v", err)
		}
		if subscribed {
			t.Fatal("expected u1 to be unsubscribed after removal")
		}
	})

	t.Run("subscribe overwrites previous subscription", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		if err := store.Insert(ctx, testRecord("u1", "https://push.example/old")); err != nil {
			t.Fatalf("unexpected insert error: %v", err)
		}
		if err := store.Insert(ctx, testRecord("u1", "https://push.example/new")); err != nil {
			t.Fatalf("unexpected insert error: %v", err)
		}

		records, err := store.AllExcluding(ctx, "someone-else")
		if err != nil {
			t.Fatalf("unexpected list error: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("expected exactly one subscription after overwrite, got %d", len(records))
		}
		if records[0].Endpoint != "https://push.example/new" {
			t.Fatalf("expected the newest endpoint to win, got %q", records[0].Endpoint)
		}
	})

	t.Run("endpoint reclaimed from previous holder", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		// The same browser endpoint re-registered under a new user id must
		// move, not gain a second holder.
		if err := store.Insert(ctx, testRecord("u1", "https://push.example/shared")); err != nil {
			t.Fatalf("unexpected insert error: %v", err)
		}
		if err := store.Insert(ctx, testRecord("u2", "https://push.example/shared")); err != nil {
			t.Fatalf("unexpected insert error: %v", err)
		}

		subscribed, err := store.IsSubscribed(ctx, "u1")
		if err != nil {
			t.Fatalf("unexpected check error: %v", err)
		}
		if subscribed {
			t.Fatal("expected u1 to lose the reclaimed endpoint")
		}

		records, err := store.AllExcluding(ctx, "someone-else")
		if err != nil {
			t.Fatalf("unexpected list error: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("expected one holder of the shared endpoint, got %d", len(records))
		}
		if records[0].UserID != "u2" || records[0].Endpoint != "https://push.example/shared" {
			t.Fatalf("expected u2 to hold the endpoint, got %+v", records[0])
		}
	})

	t.Run("all excluding filters the given user", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for _, userID := range []string{"u1", "u2", "u3"} {
			if err := store.Insert(ctx, testRecord(userID, "https://push.example/"+userID)); err != nil {
				t.Fatalf("unexpected insert error: %v", err)
			}
		}

		records, err := store.AllExcluding(ctx, "u1")
		if err != nil {
			t.Fatalf("unexpected list error: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("expected 2 records, got %d", len(records))
		}
		seen := map[string]bool{}
		for _, record := range records {
			seen[record.UserID] = true
		}
		if seen["u1"] || !seen["u2"] || !seen["u3"] {
			t.Fatalf("expected exactly u2 and u3, got %v", seen)
		}
	})

	t.Run("insert rejects invalid records", func(t *testing.T) {
		store := newStore(t)

		err := store.Insert(context.Background(), Record{UserID: "u1", Endpoint: "https://push.example/u1"})
		if !errors.Is(err, ErrInvalidRecord) {
			t.Fatalf("expected ErrInvalidRecord for missing key material, got %v", err)
		}
	})
}
