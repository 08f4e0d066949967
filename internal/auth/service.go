package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/ariefcatur/go-storefront-checkout/internal/logx"
	"go.uber.org/zap"
)

type UserStore interface {
	Create(ctx context.Context, u User) (User, error)
	ByEmail(ctx context.Context, email string) (User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

type Service struct {
	Users         UserStore
	Tokens        *TokenMaker
	EncryptionKey string
}

type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

func (s *Service) Register(ctx context.Context, name, email, password string) (Session, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return Session{}, err
	}
	u, err := s.Users.Create(ctx, User{Name: strings.TrimSpace(name), Email: strings.TrimSpace(email), PasswordHash: hash})
	if err != nil {
		return Session{}, err
	}
	return s.session(u)
}

// Login checks credentials and upgrades legacy password storage to bcrypt.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	u, err := s.Users.ByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, ErrUserNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	rehash, err := CheckPassword(u.PasswordHash, password, s.EncryptionKey)
	if err != nil {
		return Session{}, err
	}
	if rehash {
		if hash, err := HashPassword(password); err == nil {
			if err := s.Users.UpdatePasswordHash(ctx, u.ID, hash); err != nil {
				logx.From(ctx).Warn("password rehash", zap.String("user_id", u.ID), zap.Error(err))
			}
		}
	}
	return s.session(u)
}

func (s *Service) session(u User) (Session, error) {
	tok, err := s.Tokens.Issue(u.ID, u.IsAdmin)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: tok, User: u}, nil
}
