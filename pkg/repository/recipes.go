package repository

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"recipeshare/pkg/domain"
	"recipeshare/pkg/storage"
	"recipeshare/pkg/store"
)

// NewRecipe is the input to CreateRecipe.
type NewRecipe struct {
	Name           string
	Description    string
	Body           string
	Tags           []string
	AuthorUsername string
	// Image holds raw image bytes; empty means no image.
	Image []byte
}

// RecipeRepository owns recipe records and their images.
type RecipeRepository struct {
	store   store.Store
	objects storage.ObjectStore
	opts    Options
}

func NewRecipeRepository(s store.Store, objects storage.ObjectStore, opts Options) *RecipeRepository {
	return &RecipeRepository{store: s, objects: objects, opts: opts.withDefaults()}
}

// CreateRecipe validates in, uploads the image (if any) and then writes the
// record. A record is never written without its image.
func (r *RecipeRepository) CreateRecipe(ctx context.Context, in NewRecipe) (domain.Recipe, error) {
	recipe := domain.Recipe{
		Name:           strings.TrimSpace(in.Name),
		Description:    strings.TrimSpace(in.Description),
		Body:           strings.TrimSpace(in.Body),
		Tags:           NormalizeTags(in.Tags),
		AuthorUsername: strings.TrimSpace(in.AuthorUsername),
	}
	switch {
	case recipe.Name == "":
		return domain.Recipe{}, invalid("name is required")
	case recipe.Description == "":
		return domain.Recipe{}, invalid("description is required")
	case recipe.Body == "":
		return domain.Recipe{}, invalid("body is required")
	case recipe.AuthorUsername == "":
		return domain.Recipe{}, invalid("author is required")
	}

	var found bool
	if err := r.opts.read(ctx, func(ctx context.Context) error {
		var err error
		_, found, err = r.store.GetUser(ctx, recipe.AuthorUsername)
		return err
	}); err != nil {
		return domain.Recipe{}, upstream("lookup author", err)
	}
	if !found {
		return domain.Recipe{}, ErrNotFound
	}

	now := r.opts.Now().UTC().Truncate(time.Microsecond)
	recipe.ID = uuid.NewString()
	recipe.Created = now

	if len(in.Image) > 0 {
		key := storage.NewImageKey(now)
		if err := r.opts.write(ctx, func(ctx context.Context) error {
			return r.objects.Put(ctx, key, bytes.NewReader(in.Image), int64(len(in.Image)), http.DetectContentType(in.Image))
		}); err != nil {
			return domain.Recipe{}, upstream("upload image", err)
		}
		recipe.Image = key
	}

	if err := r.opts.write(ctx, func(ctx context.Context) error {
		return r.store.PutRecipe(ctx, recipe)
	}); err != nil {
		if recipe.HasImage() {
			r.discardBlob(ctx, recipe.ID, recipe.Image)
		}
		return domain.Recipe{}, upstream("put recipe", err)
	}

	r.opts.Metrics.RecipeCreated()
	r.opts.Logger.Info("recipe created", "recipe_id", recipe.ID, "author", recipe.AuthorUsername, "has_image", recipe.HasImage())
	return recipe, nil
}

// GetRecipe returns the recipe with id or ErrNotFound.
func (r *RecipeRepository) GetRecipe(ctx context.Context, id string) (domain.Recipe, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Recipe{}, invalid("id is required")
	}
	var (
		recipe domain.Recipe
		found  bool
	)
	if err := r.opts.read(ctx, func(ctx context.Context) error {
		var err error
		recipe, found, err = r.store.GetRecipe(ctx, id)
		return err
	}); err != nil {
		return domain.Recipe{}, upstream("get recipe", err)
	}
	if !found {
		return domain.Recipe{}, ErrNotFound
	}
	return recipe, nil
}

// ListRecipes returns at most limit recipes, or one scan page when limit is
// not positive. The result is unordered; callers sort for presentation.
func (r *RecipeRepository) ListRecipes(ctx context.Context, limit int) ([]domain.Recipe, error) {
	if limit <= 0 {
		limit = r.opts.ScanLimit
	}
	return r.scan(ctx, limit)
}

// SearchRecipes matches query case-insensitively against name or description
// within one scan page.
func (r *RecipeRepository) SearchRecipes(ctx context.Context, query string) ([]domain.Recipe, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	page, err := r.scan(ctx, r.opts.ScanLimit)
	if err != nil {
		return nil, err
	}
	res := make([]domain.Recipe, 0, len(page))
	for _, recipe := range page {
		if strings.Contains(strings.ToLower(recipe.Name), needle) ||
			strings.Contains(strings.ToLower(recipe.Description), needle) {
			res = append(res, recipe)
		}
	}
	return res, nil
}

// TaggedRecipes returns recipes whose tag set contains tag after normalization,
// within one scan page.
func (r *RecipeRepository) TaggedRecipes(ctx context.Context, tag string) ([]domain.Recipe, error) {
	tag = NormalizeTag(tag)
	if tag == "" {
		return nil, invalid("tag is required")
	}
	page, err := r.scan(ctx, r.opts.ScanLimit)
	if err != nil {
		return nil, err
	}
	res := make([]domain.Recipe, 0, len(page))
	for _, recipe := range page {
		if recipe.HasTag(tag) {
			res = append(res, recipe)
		}
	}
	return res, nil
}

// DeleteRecipe removes a recipe on behalf of requestingUsername, who must be
// its author. The record goes first and the image second, so an interrupted
// delete can leave an unreferenced blob but never a recipe without its image.
func (r *RecipeRepository) DeleteRecipe(ctx context.Context, id, requestingUsername string) error {
	recipe, err := r.GetRecipe(ctx, id)
	if err != nil {
		return err
	}
	if requestingUsername == "" || recipe.AuthorUsername != requestingUsername {
		return ErrUnauthorized
	}
	if err := r.opts.write(ctx, func(ctx context.Context) error {
		return r.store.DeleteRecipe(ctx, recipe.ID)
	}); err != nil {
		return upstream("delete recipe", err)
	}
	if recipe.HasImage() {
		if err := r.opts.write(ctx, func(ctx context.Context) error {
			return r.objects.Delete(ctx, recipe.Image)
		}); err != nil {
			r.opts.Logger.Warn("delete image failed", "recipe_id", recipe.ID, "key", recipe.Image, "err", err)
			r.orphaned(ctx, recipe.Image, "delete")
		}
	}
	if err := r.opts.write(ctx, func(ctx context.Context) error {
		return r.store.DeleteFavoritesByRecipe(ctx, recipe.ID)
	}); err != nil {
		r.opts.Logger.Warn("drop favorites of deleted recipe failed", "recipe_id", recipe.ID, "err", err)
	}
	r.opts.Logger.Info("recipe deleted", "recipe_id", recipe.ID, "author", recipe.AuthorUsername)
	return nil
}

// ReferencedImageKeys lists every image key a recipe record points at.
// Any blob under storage.ImagePrefix missing from this set is an orphan.
func (r *RecipeRepository) ReferencedImageKeys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := r.opts.read(ctx, func(ctx context.Context) error {
		var err error
		keys, err = r.store.ListImageKeys(ctx)
		return err
	}); err != nil {
		return nil, upstream("list image keys", err)
	}
	return keys, nil
}

// ImageURL returns a presigned URL for a recipe image.
func (r *RecipeRepository) ImageURL(ctx context.Context, recipe domain.Recipe, expiry time.Duration) (string, error) {
	if !recipe.HasImage() {
		return "", ErrNotFound
	}
	var url string
	err := r.opts.write(ctx, func(ctx context.Context) error {
		var err error
		url, err = r.objects.PresignGet(ctx, recipe.Image, expiry)
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrPresignUnsupported) {
			return "", err
		}
		return "", upstream("presign image", err)
	}
	return url, nil
}

// OpenImage streams a recipe image from the object store. The caller closes it.
func (r *RecipeRepository) OpenImage(ctx context.Context, recipe domain.Recipe) (io.ReadCloser, error) {
	if !recipe.HasImage() {
		return nil, ErrNotFound
	}
	rc, err := r.opts.open(ctx, func(ctx context.Context) (io.ReadCloser, error) {
		return r.objects.Get(ctx, recipe.Image)
	})
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, ErrNotFound
		}
		return nil, upstream("open image", err)
	}
	return rc, nil
}

func (r *RecipeRepository) scan(ctx context.Context, limit int) ([]domain.Recipe, error) {
	var page []domain.Recipe
	if err := r.opts.read(ctx, func(ctx context.Context) error {
		var err error
		page, err = r.store.ScanRecipes(ctx, limit)
		return err
	}); err != nil {
		return nil, upstream("scan recipes", err)
	}
	return page, nil
}

// discardBlob undoes the image upload of a create whose record write failed.
// A failed write may still have committed, so the blob is deleted only once a
// fresh read confirms the record is absent. Otherwise the key is queued and the
// sweeper decides once the record is visible.
func (r *RecipeRepository) discardBlob(ctx context.Context, recipeID, key string) {
	cctx, cancel := r.opts.detached(ctx)
	defer cancel()
	_, found, err := r.store.GetRecipe(cctx, recipeID)
	switch {
	case err != nil:
		r.opts.Logger.Warn("confirm failed create", "recipe_id", recipeID, "key", key, "err", err)
		r.scheduleCleanup(ctx, key, "create_unconfirmed")
		return
	case found:
		r.opts.Logger.Warn("recipe record committed despite write error", "recipe_id", recipeID, "key", key)
		r.scheduleCleanup(ctx, key, "create_unconfirmed")
		return
	}
	if err := r.objects.Delete(cctx, key); err != nil {
		r.opts.Logger.Warn("compensating image delete failed", "key", key, "err", err)
		r.orphaned(ctx, key, "create_compensation")
	}
}

// orphaned records a blob that is known to be unreferenced.
func (r *RecipeRepository) orphaned(ctx context.Context, key, source string) {
	r.opts.Metrics.OrphanBlob(source)
	r.scheduleCleanup(ctx, key, source)
}

// scheduleCleanup hands key to the sweeper, which deletes it only while no
// recipe references it.
func (r *RecipeRepository) scheduleCleanup(ctx context.Context, key, reason string) {
	if r.opts.Cleanup == nil {
		r.opts.Logger.Error("blob left for sweeper", "key", key, "reason", reason)
		return
	}
	cctx, cancel := r.opts.detached(ctx)
	defer cancel()
	if _, err := r.opts.Cleanup.Enqueue(cctx, key, reason); err != nil {
		r.opts.Logger.Error("blob left for sweeper", "key", key, "reason", reason, "err", err)
	}
}

// NormalizeTag trims and lowercases a tag.
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// NormalizeTags normalizes each tag and drops empties and duplicates,
// keeping first-seen order.
func NormalizeTags(tags []string) []string {
	res := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = NormalizeTag(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		res = append(res, t)
	}
	return res
}
