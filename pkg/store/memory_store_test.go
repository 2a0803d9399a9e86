package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"recipeshare/pkg/domain"
)

func TestMemoryStoreCreateUserIsConditional(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	created, err := s.CreateUser(ctx, domain.User{Name: "Ann", Username: "ann1", PasswordHash: "h1"})
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	created, err = s.CreateUser(ctx, domain.User{Name: "Other", Username: "ann1", PasswordHash: "h2"})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatalf("expected duplicate username to be refused")
	}
	u, ok, err := s.GetUser(ctx, "ann1")
	if err != nil || !ok {
		t.Fatalf("get user: ok=%v err=%v", ok, err)
	}
	if u.PasswordHash != "h1" || u.Name != "Ann" {
		t.Fatalf("stored user was overwritten: %+v", u)
	}
}

func TestMemoryStoreCreateUserConcurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := s.CreateUser(ctx, domain.User{Username: "race", PasswordHash: "h"})
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			if created {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestMemoryStoreScanRecipesRespectsLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := s.PutRecipe(ctx, domain.Recipe{ID: id, Name: id}); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	got, err := s.ScanRecipes(ctx, 2)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 recipes, got %d", len(got))
	}
	all, err := s.ScanRecipes(ctx, 0)
	if err != nil {
		t.Fatalf("scan all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 recipes, got %d", len(all))
	}
}

func TestMemoryStoreRecipeTagsAreCopied(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tags := []string{"soup"}
	if err := s.PutRecipe(ctx, domain.Recipe{ID: "r1", Tags: tags}); err != nil {
		t.Fatalf("put: %v", err)
	}
	tags[0] = "mutated"
	got, _, err := s.GetRecipe(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Tags[0] != "soup" {
		t.Fatalf("expected stored tags to be isolated, got %v", got.Tags)
	}
}

func TestMemoryStoreDeleteRecipeAndImageKeys(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.PutRecipe(ctx, domain.Recipe{ID: "r1", Image: "recipes/2026/01/a"})
	_ = s.PutRecipe(ctx, domain.Recipe{ID: "r2"})

	keys, err := s.ListImageKeys(ctx)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "recipes/2026/01/a" {
		t.Fatalf("unexpected image keys: %v", keys)
	}
	if err := s.DeleteRecipe(ctx, "r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.GetRecipe(ctx, "r1"); ok {
		t.Fatalf("expected recipe to be gone")
	}
	keys, _ = s.ListImageKeys(ctx)
	if len(keys) != 0 {
		t.Fatalf("expected no image keys, got %v", keys)
	}
}

func TestMemoryStoreFavorites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_ = s.PutFavorite(ctx, domain.Favorite{Username: "ann1", RecipeID: "r2", Created: base.Add(time.Minute)})
	_ = s.PutFavorite(ctx, domain.Favorite{Username: "ann1", RecipeID: "r1", Created: base})
	_ = s.PutFavorite(ctx, domain.Favorite{Username: "ann1", RecipeID: "r1", Created: base.Add(time.Hour)})
	_ = s.PutFavorite(ctx, domain.Favorite{Username: "bob1", RecipeID: "r1", Created: base})

	favs, err := s.ListFavorites(ctx, "ann1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(favs) != 2 || favs[0].RecipeID != "r1" || favs[1].RecipeID != "r2" {
		t.Fatalf("unexpected favorites: %+v", favs)
	}
	if !favs[0].Created.Equal(base) {
		t.Fatalf("duplicate put must keep the first timestamp, got %v", favs[0].Created)
	}

	if err := s.DeleteFavoritesByRecipe(ctx, "r1"); err != nil {
		t.Fatalf("delete by recipe: %v", err)
	}
	favs, _ = s.ListFavorites(ctx, "bob1")
	if len(favs) != 0 {
		t.Fatalf("expected bob1 favorites cleared, got %+v", favs)
	}
	if err := s.DeleteFavorite(ctx, "ann1", "r2"); err != nil {
		t.Fatalf("delete favorite: %v", err)
	}
	favs, _ = s.ListFavorites(ctx, "ann1")
	if len(favs) != 0 {
		t.Fatalf("expected ann1 favorites cleared, got %+v", favs)
	}
}
