package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"triagechat/internal/model"
	"triagechat/internal/pkg/dbctx"
	"triagechat/internal/pkg/jwtutil"
)

var (
	ErrUsernameExists    = errors.New("username already exists")
	ErrEmailExists       = errors.New("email already exists")
	ErrInvalidCredential = errors.New("invalid username or password")
)

type UserStore interface {
	Create(dbc dbctx.Context, user *model.User) error
	GetByUsername(dbc dbctx.Context, username string) (*model.User, error)
	GetByEmail(dbc dbctx.Context, email string) (*model.User, error)
	GetByID(dbc dbctx.Context, id uint) (*model.User, error)
}

type AuthService struct {
	users         UserStore
	jwtSecret     string
	jwtExpiration time.Duration
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

type LoginInput struct {
	Username string
	Password string
}

type AuthResult struct {
	Token string
	User  *model.User
}

func NewAuthService(users UserStore, jwtSecret string, jwtExpiration time.Duration) *AuthService {
	return &AuthService{
		users:         users,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
	}
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(strings.ToLower(input.Email))
	password := strings.TrimSpace(input.Password)

	if username == "" || email == "" || len(password) < 8 {
		return nil, ErrInvalidInput
	}

	dbc := dbctx.New(ctx)
	existingByName, err := s.users.GetByUsername(dbc, username)
	if err != nil {
		return nil, err
	}
	if existingByName != nil {
		return nil, ErrUsernameExists
	}

	existingByEmail, err := s.users.GetByEmail(dbc, email)
	if err != nil {
		return nil, err
	}
	if existingByEmail != nil {
		return nil, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password failed: %w", err)
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.users.Create(dbc, user); err != nil {
		return nil, err
	}
	return s.issue(user)
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	username := strings.TrimSpace(input.Username)
	password := strings.TrimSpace(input.Password)
	if username == "" || password == "" {
		return nil, ErrInvalidInput
	}

	user, err := s.users.GetByUsername(dbctx.New(ctx), username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredential
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredential
	}
	return s.issue(user)
}

func (s *AuthService) GetUserByID(ctx context.Context, id uint) (*model.User, error) {
	if id == 0 {
		return nil, ErrInvalidInput
	}
	return s.users.GetByID(dbctx.New(ctx), id)
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := jwtutil.GenerateToken(s.jwtSecret, s.jwtExpiration, user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user}, nil
}
