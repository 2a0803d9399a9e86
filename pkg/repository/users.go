package repository

import (
	"context"
	"strings"

	"recipeshare/pkg/auth"
	"recipeshare/pkg/domain"
	"recipeshare/pkg/store"
)

// UserRepository owns user accounts.
type UserRepository struct {
	store store.Store
	opts  Options
}

func NewUserRepository(s store.Store, opts Options) *UserRepository {
	return &UserRepository{store: s, opts: opts.withDefaults()}
}

// CreateUser registers a user. The insert is conditional on the username
// being free, so an existing account is never overwritten.
func (u *UserRepository) CreateUser(ctx context.Context, name, username, password string) (domain.User, error) {
	name = strings.TrimSpace(name)
	username = strings.TrimSpace(username)
	switch {
	case name == "":
		return domain.User{}, invalid("name is required")
	case username == "":
		return domain.User{}, invalid("username is required")
	case strings.ContainsAny(username, " \t\r\n"):
		return domain.User{}, invalid("username must not contain whitespace")
	case password == "":
		return domain.User{}, invalid("password is required")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, err
	}
	user := domain.User{Name: name, Username: username, PasswordHash: hash}

	var created bool
	if err := u.opts.write(ctx, func(ctx context.Context) error {
		var err error
		created, err = u.store.CreateUser(ctx, user)
		return err
	}); err != nil {
		return domain.User{}, upstream("create user", err)
	}
	if !created {
		return domain.User{}, ErrAlreadyExists
	}
	return user, nil
}

// Authenticate checks a username and password. Failures match
// ErrInvalidCredentials and also ErrUnknownUser or ErrInvalidPassword.
func (u *UserRepository) Authenticate(ctx context.Context, username, password string) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.User{}, invalid("username and password are required")
	}
	var (
		user  domain.User
		found bool
	)
	if err := u.opts.read(ctx, func(ctx context.Context) error {
		var err error
		user, found, err = u.store.GetUser(ctx, username)
		return err
	}); err != nil {
		return domain.User{}, upstream("get user", err)
	}
	if !found {
		auth.BurnCompare(password)
		return domain.User{}, badCredentials(ErrUnknownUser)
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, badCredentials(ErrInvalidPassword)
	}
	return user, nil
}
