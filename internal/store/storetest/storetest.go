// Package storetest opens migrated, seeded in-memory stores for tests.
package storetest

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/gabrieltornquist7/history-clue/internal/database"
	"github.com/gabrieltornquist7/history-clue/internal/migrations"
	"github.com/gabrieltornquist7/history-clue/internal/realtime"
	"github.com/gabrieltornquist7/history-clue/internal/store"
)

// New returns a store backed by a fresh in-memory database with the bundled
// puzzles loaded. feed may be nil.
func New(t testing.TB, feed realtime.Publisher) *store.Store {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := migrations.Run(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	s := store.New(db, feed, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := s.SeedPuzzles(ctx); err != nil {
		t.Fatalf("seed puzzles: %v", err)
	}
	return s
}
