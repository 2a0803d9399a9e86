package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"recipeshare/pkg/domain"
)

type favoriteKey struct {
	username string
	recipeID string
}

// MemoryStore keeps records in-process. It backs tests and local runs.
type MemoryStore struct {
	mu        sync.RWMutex
	recipes   map[string]domain.Recipe
	orders    []string
	users     map[string]domain.User
	favorites map[favoriteKey]domain.Favorite
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recipes:   make(map[string]domain.Recipe),
		users:     make(map[string]domain.User),
		favorites: make(map[favoriteKey]domain.Favorite),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Ping(context.Context) error { return nil }

// PutRecipe stores a recipe and tracks insertion order.
func (m *MemoryStore) PutRecipe(_ context.Context, r domain.Recipe) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.recipes[r.ID]; !exists {
		m.orders = append(m.orders, r.ID)
	}
	m.recipes[r.ID] = cloneRecipe(r)
	return nil
}

// GetRecipe retrieves a recipe by id.
func (m *MemoryStore) GetRecipe(_ context.Context, id string) (domain.Recipe, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recipes[id]
	if !ok {
		return domain.Recipe{}, false, nil
	}
	return cloneRecipe(r), true, nil
}

// ScanRecipes returns up to limit recipes in insertion order.
func (m *MemoryStore) ScanRecipes(_ context.Context, limit int) ([]domain.Recipe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Recipe, 0, len(m.orders))
	for _, id := range m.orders {
		if limit > 0 && len(res) >= limit {
			break
		}
		if r, ok := m.recipes[id]; ok {
			res = append(res, cloneRecipe(r))
		}
	}
	return res, nil
}

// DeleteRecipe removes a recipe.
func (m *MemoryStore) DeleteRecipe(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recipes, id)
	filtered := m.orders[:0]
	for _, item := range m.orders {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.orders = filtered
	return nil
}

// ListImageKeys returns every non-empty image key.
func (m *MemoryStore) ListImageKeys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.recipes))
	for _, r := range m.recipes {
		if r.Image != "" {
			keys = append(keys, r.Image)
		}
	}
	return keys, nil
}

// CreateUser inserts a user if the username is free.
func (m *MemoryStore) CreateUser(_ context.Context, u domain.User) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[u.Username]; exists {
		return false, nil
	}
	m.users[u.Username] = u
	return true, nil
}

// GetUser looks up a user by username.
func (m *MemoryStore) GetUser(_ context.Context, username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	return u, ok, nil
}

// PutFavorite records a favorite once per pair.
func (m *MemoryStore) PutFavorite(_ context.Context, f domain.Favorite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := favoriteKey{username: f.Username, recipeID: f.RecipeID}
	if _, exists := m.favorites[key]; exists {
		return nil
	}
	if f.Created.IsZero() {
		f.Created = time.Now().UTC()
	}
	m.favorites[key] = f
	return nil
}

// DeleteFavorite removes one favorite pair.
func (m *MemoryStore) DeleteFavorite(_ context.Context, username, recipeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.favorites, favoriteKey{username: username, recipeID: recipeID})
	return nil
}

// DeleteFavoritesByRecipe removes every favorite pointing at a recipe.
func (m *MemoryStore) DeleteFavoritesByRecipe(_ context.Context, recipeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.favorites {
		if key.recipeID == recipeID {
			delete(m.favorites, key)
		}
	}
	return nil
}

// ListFavorites returns a user's favorites ordered by when they were added.
func (m *MemoryStore) ListFavorites(_ context.Context, username string) ([]domain.Favorite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Favorite, 0)
	for key, f := range m.favorites {
		if key.username == username {
			res = append(res, f)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Created.Equal(res[j].Created) {
			return res[i].RecipeID < res[j].RecipeID
		}
		return res[i].Created.Before(res[j].Created)
	})
	return res, nil
}

func cloneRecipe(r domain.Recipe) domain.Recipe {
	if r.Tags != nil {
		r.Tags = append([]string(nil), r.Tags...)
	}
	return r
}
