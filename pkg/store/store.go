package store

import (
	"context"

	"recipeshare/pkg/domain"
)

// Store is the typed document-store client used by the repositories.
// Implementations must be safe for concurrent use.
type Store interface {
	// recipes
	PutRecipe(ctx context.Context, r domain.Recipe) error
	GetRecipe(ctx context.Context, id string) (domain.Recipe, bool, error)
	// ScanRecipes returns at most limit recipes in no particular order.
	ScanRecipes(ctx context.Context, limit int) ([]domain.Recipe, error)
	DeleteRecipe(ctx context.Context, id string) error
	// ListImageKeys returns every image key referenced by a recipe.
	ListImageKeys(ctx context.Context) ([]string, error)

	// users
	// CreateUser inserts u only when its username is free. It reports false
	// and leaves the stored user untouched when the username is taken.
	CreateUser(ctx context.Context, u domain.User) (bool, error)
	GetUser(ctx context.Context, username string) (domain.User, bool, error)

	// favorites
	PutFavorite(ctx context.Context, f domain.Favorite) error
	DeleteFavorite(ctx context.Context, username, recipeID string) error
	DeleteFavoritesByRecipe(ctx context.Context, recipeID string) error
	ListFavorites(ctx context.Context, username string) ([]domain.Favorite, error)

	// Ping checks the backing database is reachable.
	Ping(ctx context.Context) error
	Close() error
}
