package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"recipeshare/pkg/domain"
)

const migrateLockID int64 = 51730417

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &RecipeModel{}, &FavoriteModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			CREATE INDEX IF NOT EXISTS recipes_tags_gin ON recipes USING GIN (tags jsonb_path_ops)
		`).Error; err != nil {
			return fmt.Errorf("ensure tags index: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Ping checks the database connection.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// PutRecipe inserts a recipe. Recipes are immutable, so an existing id is an error.
func (s *GormStore) PutRecipe(ctx context.Context, r domain.Recipe) error {
	model := recipeToModel(r)
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetRecipe retrieves a recipe by id.
func (s *GormStore) GetRecipe(ctx context.Context, id string) (domain.Recipe, bool, error) {
	var model RecipeModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Recipe{}, false, nil
		}
		return domain.Recipe{}, false, err
	}
	r, err := recipeFromModel(model)
	if err != nil {
		return domain.Recipe{}, false, err
	}
	return r, true, nil
}

// ScanRecipes reads one unordered page of recipes.
func (s *GormStore) ScanRecipes(ctx context.Context, limit int) ([]domain.Recipe, error) {
	var models []RecipeModel
	tx := s.db.WithContext(ctx)
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Recipe, 0, len(models))
	for _, m := range models {
		r, err := recipeFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, nil
}

// DeleteRecipe removes a recipe record.
func (s *GormStore) DeleteRecipe(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&RecipeModel{}, "id = ?", id).Error
}

// ListImageKeys returns every non-empty image key.
func (s *GormStore) ListImageKeys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := s.db.WithContext(ctx).
		Model(&RecipeModel{}).
		Where("image <> ''").
		Pluck("image", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

// CreateUser is a conditional insert keyed on the username.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) (bool, error) {
	model := userToModel(u)
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "username"}}, DoNothing: true}).
		Create(&model)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetUser looks up a user by username.
func (s *GormStore) GetUser(ctx context.Context, username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// PutFavorite records a favorite; an existing pair is left as is.
func (s *GormStore) PutFavorite(ctx context.Context, f domain.Favorite) error {
	model := favoriteToModel(f)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model).Error
}

// DeleteFavorite removes one favorite pair.
func (s *GormStore) DeleteFavorite(ctx context.Context, username, recipeID string) error {
	return s.db.WithContext(ctx).
		Delete(&FavoriteModel{}, "username = ? AND recipe_id = ?", username, recipeID).Error
}

// DeleteFavoritesByRecipe removes every favorite pointing at a recipe.
func (s *GormStore) DeleteFavoritesByRecipe(ctx context.Context, recipeID string) error {
	return s.db.WithContext(ctx).Delete(&FavoriteModel{}, "recipe_id = ?", recipeID).Error
}

// ListFavorites returns a user's favorites ordered by when they were added.
func (s *GormStore) ListFavorites(ctx context.Context, username string) ([]domain.Favorite, error) {
	var models []FavoriteModel
	if err := s.db.WithContext(ctx).
		Where("username = ?", username).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Favorite, 0, len(models))
	for _, m := range models {
		res = append(res, favoriteFromModel(m))
	}
	return res, nil
}

func recipeToModel(r domain.Recipe) RecipeModel {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	rawTags, _ := json.Marshal(tags)
	return RecipeModel{
		ID:             r.ID,
		Name:           r.Name,
		Description:    r.Description,
		Body:           r.Body,
		Tags:           rawTags,
		Image:          r.Image,
		AuthorUsername: r.AuthorUsername,
		Created:        r.Created,
	}
}

func recipeFromModel(m RecipeModel) (domain.Recipe, error) {
	tags := []string{}
	if len(m.Tags) > 0 {
		if err := json.Unmarshal(m.Tags, &tags); err != nil {
			return domain.Recipe{}, fmt.Errorf("decode tags of recipe %s: %w", m.ID, err)
		}
	}
	return domain.Recipe{
		ID:             m.ID,
		Name:           m.Name,
		Description:    m.Description,
		Body:           m.Body,
		Tags:           tags,
		Image:          m.Image,
		AuthorUsername: m.AuthorUsername,
		Created:        m.Created.UTC(),
	}, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		Username:     u.Username,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		Name:         m.Name,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
	}
}

func favoriteToModel(f domain.Favorite) FavoriteModel {
	created := f.Created
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return FavoriteModel{
		Username:  f.Username,
		RecipeID:  f.RecipeID,
		CreatedAt: created,
	}
}

func favoriteFromModel(m FavoriteModel) domain.Favorite {
	return domain.Favorite{
		Username: m.Username,
		RecipeID: m.RecipeID,
		Created:  m.CreatedAt.UTC(),
	}
}
