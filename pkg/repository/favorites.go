package repository

import (
	"context"
	"strings"

	"recipeshare/pkg/domain"
	"recipeshare/pkg/store"
)

// FavoriteRepository owns the user to recipe favorite relation.
type FavoriteRepository struct {
	store store.Store
	opts  Options
}

func NewFavoriteRepository(s store.Store, opts Options) *FavoriteRepository {
	return &FavoriteRepository{store: s, opts: opts.withDefaults()}
}

// ListFavorites returns the recipe ids username has favorited, oldest first.
func (f *FavoriteRepository) ListFavorites(ctx context.Context, username string) ([]string, error) {
	if strings.TrimSpace(username) == "" {
		return nil, invalid("username is required")
	}
	var favs []domain.Favorite
	if err := f.opts.read(ctx, func(ctx context.Context) error {
		var err error
		favs, err = f.store.ListFavorites(ctx, username)
		return err
	}); err != nil {
		return nil, upstream("list favorites", err)
	}
	ids := make([]string, 0, len(favs))
	for _, fav := range favs {
		ids = append(ids, fav.RecipeID)
	}
	return ids, nil
}

// AddFavorite marks recipeID as a favorite of username. Adding twice is a no-op.
func (f *FavoriteRepository) AddFavorite(ctx context.Context, username, recipeID string) error {
	recipeID = strings.TrimSpace(recipeID)
	if strings.TrimSpace(username) == "" || recipeID == "" {
		return invalid("recipe_id is required")
	}
	var found bool
	if err := f.opts.read(ctx, func(ctx context.Context) error {
		var err error
		_, found, err = f.store.GetRecipe(ctx, recipeID)
		return err
	}); err != nil {
		return upstream("get recipe", err)
	}
	if !found {
		return ErrNotFound
	}
	fav := domain.Favorite{Username: username, RecipeID: recipeID, Created: f.opts.Now().UTC()}
	if err := f.opts.write(ctx, func(ctx context.Context) error {
		return f.store.PutFavorite(ctx, fav)
	}); err != nil {
		return upstream("put favorite", err)
	}
	return nil
}

// RemoveFavorite unmarks recipeID. Removing a missing favorite is a no-op.
func (f *FavoriteRepository) RemoveFavorite(ctx context.Context, username, recipeID string) error {
	recipeID = strings.TrimSpace(recipeID)
	if strings.TrimSpace(username) == "" || recipeID == "" {
		return invalid("recipe_id is required")
	}
	if err := f.opts.write(ctx, func(ctx context.Context) error {
		return f.store.DeleteFavorite(ctx, username, recipeID)
	}); err != nil {
		return upstream("delete favorite", err)
	}
	return nil
}
