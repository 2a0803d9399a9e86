package app

import (
	"bytes"
	"context"
	"testing"
	"time"

	"recipeshare/pkg/domain"
	"recipeshare/pkg/queue"
	"recipeshare/pkg/storage"
	"recipeshare/pkg/store"
)

func TestSweepUsesRecipeReferences(t *testing.T) {
	ctx := context.Background()
	objects, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	mem := store.NewMemoryStore()
	for _, key := range []string{"recipes/2026/10/kept", "recipes/2026/10/orphan"} {
		if err := objects.Put(ctx, key, bytes.NewReader([]byte("img")), 3, "image/png"); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := mem.PutRecipe(ctx, domain.Recipe{ID: "r1", Name: "n", Image: "recipes/2026/10/kept", Created: time.Now()}); err != nil {
		t.Fatalf("put recipe: %v", err)
	}

	a, err := New(ctx, Config{Store: mem, Objects: objects})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()
	if a.Queue() != nil {
		t.Fatalf("queue must be nil without redis")
	}

	if err := a.Sweeper().HandleJob(ctx, cleanupJob("recipes/2026/10/kept")); err != nil {
		t.Fatalf("handle referenced job: %v", err)
	}
	if err := a.Sweeper().HandleJob(ctx, cleanupJob("recipes/2026/10/orphan")); err != nil {
		t.Fatalf("handle orphan job: %v", err)
	}
	infos, err := objects.List(ctx, storage.ImagePrefix)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 || infos[0].Key != "recipes/2026/10/kept" {
		t.Fatalf("unexpected remaining objects %+v", infos)
	}
}

func cleanupJob(key string) queue.CleanupJob {
	return queue.CleanupJob{Key: key, Reason: "delete"}
}
