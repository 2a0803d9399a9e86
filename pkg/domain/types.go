package domain

import (
	"sort"
	"time"
)

type Recipe struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Body           string    `json:"body"`
	Tags           []string  `json:"tags"`
	Image          string    `json:"image,omitempty"`
	AuthorUsername string    `json:"author_username"`
	Created        time.Time `json:"created"`
}

// HasImage reports whether the recipe references a stored blob.
func (r Recipe) HasImage() bool {
	return r.Image != ""
}

// HasTag reports exact membership of an already-normalized tag.
func (r Recipe) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

type User struct {
	Name         string `json:"name"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}

type Favorite struct {
	Username string    `json:"username"`
	RecipeID string    `json:"recipe_id"`
	Created  time.Time `json:"created"`
}

// SessionUser is the identity carried by a session cookie. It never holds
// the password or its hash.
type SessionUser struct {
	IsLoggedIn bool   `json:"isLoggedIn"`
	Name       string `json:"name,omitempty"`
	Username   string `json:"username,omitempty"`
}

// SessionFor builds the logged-in identity for a user.
func SessionFor(u User) SessionUser {
	return SessionUser{IsLoggedIn: true, Name: u.Name, Username: u.Username}
}

// SortNewestFirst orders recipes by creation time, most recent first.
// Ties are broken by id so the order is stable across calls.
func SortNewestFirst(recipes []Recipe) {
	sort.SliceStable(recipes, func(i, j int) bool {
		if recipes[i].Created.Equal(recipes[j].Created) {
			return recipes[i].ID < recipes[j].ID
		}
		return recipes[i].Created.After(recipes[j].Created)
	})
}
