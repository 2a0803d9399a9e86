package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"recipeshare/internal/ratelimit"
	"recipeshare/internal/session"
	"recipeshare/internal/util"
	"recipeshare/pkg/domain"
	"recipeshare/pkg/repository"
	"recipeshare/pkg/storage"
	"recipeshare/services/api/internal/app"
)

const tagQueryPrefix = "tag: "

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                      *app.App
	SessionSecret            string
	SessionCookieName        string
	SessionCookieSecure      bool
	SessionTTL               time.Duration
	MaxBodyBytes             int64
	SignupRateLimitPerMinute int
	LoginRateLimitPerMinute  int
	TrustedProxies           *util.TrustedProxies
	AllowedOrigins           []string
	ImageURLExpiry           time.Duration
}

// Server exposes the recipe HTTP endpoints.
type Server struct {
	app            *app.App
	gate           *session.Gate
	mux            *http.ServeMux
	maxBodyBytes   int64
	signupLimiter  ratelimit.Limiter
	loginLimiter   ratelimit.Limiter
	trustedProxies *util.TrustedProxies
	allowedOrigins []string
	imageURLExpiry time.Duration
	paths          []string
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server requires app")
	}
	gate, err := session.NewGate(session.Config{
		Secret:     cfg.SessionSecret,
		CookieName: cfg.SessionCookieName,
		TTL:        cfg.SessionTTL,
		Secure:     cfg.SessionCookieSecure,
		Revoker:    cfg.App.Revoker(),
		Deny: func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init session gate: %w", err)
	}

	signupLimit := cfg.SignupRateLimitPerMinute
	if signupLimit <= 0 {
		signupLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	newLimiter := func(name string, limit int) (ratelimit.Limiter, error) {
		if client := cfg.App.Redis(); client != nil {
			l, err := ratelimit.NewRedisFixedWindow(client, "recipeshare:api:ratelimit:"+name, limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return l, nil
		}
		l, err := ratelimit.NewMemoryFixedWindow(limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return l, nil
	}
	signupLimiter, err := newLimiter("signup", signupLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}

	s := &Server{
		app:            cfg.App,
		gate:           gate,
		mux:            http.NewServeMux(),
		maxBodyBytes:   cfg.MaxBodyBytes,
		signupLimiter:  signupLimiter,
		loginLimiter:   loginLimiter,
		trustedProxies: cfg.TrustedProxies,
		allowedOrigins: cfg.AllowedOrigins,
		imageURLExpiry: cfg.ImageURLExpiry,
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = 10 << 20
	}
	if s.imageURLExpiry <= 0 {
		s.imageURLExpiry = 15 * time.Minute
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithCORS(s.allowedOrigins, h)
	h = util.WithSecurityHeaders(h)
	h = s.app.Metrics().Instrument(h, s.paths...)
	h = util.WithRequestLog(h)
	return util.WithRequestID(h)
}

func (s *Server) handle(path string, h http.Handler) {
	s.paths = append(s.paths, path)
	s.mux.Handle(path, h)
}

func (s *Server) routes() {
	s.handle("/healthz", http.HandlerFunc(s.handleHealth))
	s.handle("/metrics", s.app.Metrics().Handler())

	// recipes
	s.handle("/recipes", http.HandlerFunc(s.handleListRecipes))
	s.handle("/recipe/get", http.HandlerFunc(s.handleGetRecipe))
	s.handle("/recipe/search", http.HandlerFunc(s.handleSearchRecipes))
	s.handle("/recipe/image", http.HandlerFunc(s.handleRecipeImage))
	s.handle("/recipe/create", s.gate.Require(s.handleCreateRecipe))
	s.handle("/recipe/delete", s.gate.Require(s.handleDeleteRecipe))

	// users & sessions
	s.handle("/user/create", http.HandlerFunc(s.handleSignup))
	s.handle("/login", http.HandlerFunc(s.handleLogin))
	s.handle("/logout", s.gate.Require(s.handleLogout))
	s.handle("/user", http.HandlerFunc(s.handleCurrentUser))

	// favorites
	s.handle("/user/favorites", s.gate.Require(s.handleListFavorites))
	s.handle("/user/new-favorite", s.gate.Require(s.handleAddFavorite))
	s.handle("/user/delete-favorite", s.gate.Require(s.handleRemoveFavorite))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Ready(r.Context()); err != nil {
		util.LoggerFromContext(r.Context()).Warn("health check failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// recipe handlers
func (s *Server) handleListRecipes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	recipes, err := s.app.Recipes().ListRecipes(r.Context(), 0)
	if err != nil {
		writeRepoError(w, r, err)
		return
	}
	domain.SortNewestFirst(recipes)
	writeJSON(w, http.StatusOK, recipes)
}

func (s *Server) handleGetRecipe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	recipe, err := s.app.Recipes().GetRecipe(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		writeRepoError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recipe)
}

func (s *Server) handleSearchRecipes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	query := r.URL.Query().Get("query")
	var (
		recipes []domain.Recipe
		err     error
	)
	if strings.HasPrefix(query, tagQueryPrefix) {
		recipes, err = s.app.Recipes().TaggedRecipes(r.Context(), strings.TrimPrefix(query, tagQueryPrefix))
	} else {
		recipes, err = s.app.Recipes().SearchRecipes(r.Context(), query)
	}
	if err != nil {
		writeRepoError(w, r, err)
		return
	}
	domain.SortNewestFirst(recipes)
	writeJSON(w, http.StatusOK, recipes)
}

func (s *Server) handleRecipeImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	recipes := s.app.Recipes()
	recipe, err := recipes.GetRecipe(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		writeRepoError(w, r, err)
		return
	}
	url, err := recipes.ImageURL(r.Context(), recipe, s.imageURLExpiry)
	if err == nil {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	if !errors.Is(err, storage.ErrPresignUnsupported) {
		writeRepoError(w, r, err)
		return
	}
	rc, err := recipes.OpenImage(r.Context(), recipe)
	if err != nil {
		writeRepoError(w, r, err)
		return
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, s.maxBodyBytes))
	if err != nil {
		writeRepoError(w, r, fmt.Errorf("read image: %w: %w", repository.ErrUpstreamUnavailable, err))
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleCreateRecipe(w http.ResponseWriter, r *http.Request, user domain.SessionUser) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req createRecipeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.AuthorUsername != "" && req.AuthorUsername != user.Username {
		s.audit(r, "recipe.create", "fail", "username", user.Username, "reason", "author_mismatch")
		writeError(w, http.StatusForbidden, "Unauthorized")
		return
	}
	image, err := decodeImage(req.Image)
	if err != nil {
		writeError(w, http.StatusBadRequest, "image must be base64 encoded")
		return
	}
	recipe, err := s.app.Recipes().CreateRecipe(r.Context(), repository.NewRecipe{
		Name:           req.Name,
		Description:    req.Description,
		Body:           req.Body,
		Tags:           req.Tags,
		AuthorUsername: user.Username,
		Image:          image,
	})
	if err != nil {
		writeRepoError(w, r, err)
		return
	}
	s.audit(r, "recipe.create", "success", "username", user.Username, "recipe_id", recipe.ID)
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleDeleteRecipe(w http.ResponseWriter, r *http.Request, user domain.SessionUser) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req deleteRecipeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.Recipes().DeleteRecipe(r.Context(), req.ID, user.Username); err != nil {
		if errors.Is(err, repository.ErrUnauthorized) {
			s.audit(r, "recipe.delete", "fail", "username", user.Username, "recipe_id", req.ID)
		}
		writeRepoError(w, r, err)
		return
	}
	s.audit(r, "recipe.delete", "success", "username", user.Username, "recipe_id", req.ID)
	writeJSON(w, http.StatusOK, struct{}{})
}

// user & session handlers
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "user.signup", "rate_limited")
		return
	}
	var req signupRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	user, err := s.app.Users().CreateUser(r.Context(), req.Name, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			s.audit(r, "user.signup", "fail", "username", req.Username, "reason", "exists")
		}
		writeRepoError(w, r, err)
		return
	}
	// An authenticated caller keeps its own session; there is no
	// Authenticated -> Authenticated transition.
	if _, err := s.gate.Identity(r); err != nil {
		if err := s.gate.Issue(w, user); err != nil {
			writeRepoError(w, r, err)
			return
		}
	}
	s.audit(r, "user.signup", "success", "username", user.Username)
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "user.login", "rate_limited")
		return
	}
	if current, err := s.gate.Identity(r); err == nil {
		s.audit(r, "user.login", "fail", "username", current.Username, "reason", "already_logged_in")
		writeError(w, http.StatusConflict, "already logged in")
		return
	}
	var req loginRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	user, err := s.app.Users().Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, repository.ErrUnknownUser):
			reason = "unknown_user"
		case errors.Is(err, repository.ErrInvalidPassword):
			reason = "invalid_password"
		}
		s.audit(r, "user.login", "fail", "username", req.Username, "reason", reason)
		writeRepoError(w, r, err)
		return
	}
	if err := s.gate.Issue(w, user); err != nil {
		writeRepoError(w, r, err)
		return
	}
	s.audit(r, "user.login", "success", "username", user.Username)
	writeJSON(w, http.StatusOK, domain.SessionFor(user))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, user domain.SessionUser) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.gate.Clear(w, r); err != nil {
		util.LoggerFromContext(r.Context()).Warn("logout revoke failed", "username", user.Username, "err", err)
	}
	s.audit(r, "user.logout", "success", "username", user.Username)
	writeJSON(w, http.StatusOK, domain.SessionUser{IsLoggedIn: false})
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	user, err := s.gate.Identity(r)
	if err != nil {
		writeJSON(w, http.StatusOK, domain.SessionUser{IsLoggedIn: false})
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// favorite handlers
func (s *Server) handleListFavorites(w http.ResponseWriter, r *http.Request, user domain.SessionUser) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.writeFavorites(w, r, user)
}

func (s *Server) handleAddFavorite(w http.ResponseWriter, r *http.Request, user domain.SessionUser) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req favoriteRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.Favorites().AddFavorite(r.Context(), user.Username, req.RecipeID); err != nil {
		writeRepoError(w, r, err)
		return
	}
	s.writeFavorites(w, r, user)
}

func (s *Server) handleRemoveFavorite(w http.ResponseWriter, r *http.Request, user domain.SessionUser) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req favoriteRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.Favorites().RemoveFavorite(r.Context(), user.Username, req.RecipeID); err != nil {
		writeRepoError(w, r, err)
		return
	}
	s.writeFavorites(w, r, user)
}

func (s *Server) writeFavorites(w http.ResponseWriter, r *http.Request, user domain.SessionUser) {
	ids, err := s.app.Favorites().ListFavorites(r.Context(), user.Username)
	if err != nil {
		writeRepoError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

type createRecipeRequest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Body           string   `json:"body"`
	Tags           []string `json:"tags"`
	Image          string   `json:"image"`
	AuthorUsername string   `json:"author_username"`
}

type deleteRecipeRequest struct {
	ID string `json:"id"`
}

type signupRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type favoriteRequest struct {
	RecipeID string `json:"recipe_id"`
}

// decodeImage accepts plain base64 or a data URL.
func decodeImage(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "data:") {
		if i := strings.Index(raw, "base64,"); i >= 0 {
			raw = raw[i+len("base64,"):]
		}
	}
	return base64.StdEncoding.DecodeString(raw)
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeRepoError maps repository errors onto stable statuses. Store details
// are logged and never returned.
func writeRepoError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *repository.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, repository.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid request")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, repository.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "Unauthorized")
	case errors.Is(err, repository.ErrAlreadyExists):
		writeError(w, http.StatusForbidden, "username already exists")
	case errors.Is(err, repository.ErrInvalidCredentials):
		writeError(w, http.StatusForbidden, "unauthorized")
	case errors.Is(err, repository.ErrUpstreamUnavailable):
		util.LoggerFromContext(r.Context()).Error("upstream failure", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	if limiter.Allow(r.Context(), key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}
