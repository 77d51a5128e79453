package testsupport

import (
	"context"
	"testing"

	"rollcall/internal/config"
	"rollcall/internal/library"
	"rollcall/internal/queue"
	"rollcall/internal/storage"
)

// MustOpenDB opens the shared database for tests and registers cleanup.
func MustOpenDB(t testing.TB, cfg *config.Config) *storage.DB {
	t.Helper()

	db, err := storage.Open(cfg)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// MustOpenStore opens a queue.Store (with its backing database) for tests.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	db := MustOpenDB(t, cfg)
	return queue.NewStore(db, cfg)
}

// MustOpenLibrary opens a library.Store (with its backing database) for tests.
func MustOpenLibrary(t testing.TB, cfg *config.Config) *library.Store {
	t.Helper()

	db := MustOpenDB(t, cfg)
	return library.NewStore(db, cfg)
}

// NewJob enqueues an initial job for tests using the provided store.
func NewJob(t testing.TB, store *queue.Store, episodeID, audioPath string) *queue.Job {
	t.Helper()

	job, err := store.Enqueue(context.Background(), episodeID, queue.PriorityInitial, queue.ReasonInitial, queue.EnqueueOptions{
		AudioPath: audioPath,
	})
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return job
}
