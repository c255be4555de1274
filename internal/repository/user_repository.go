package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"triagechat/internal/model"
	"triagechat/internal/pkg/dbctx"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(dbc dbctx.Context, user *model.User) error {
	if err := pick(r.db, dbc).Create(user).Error; err != nil {
		return fmt.Errorf("create user failed: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByUsername(dbc dbctx.Context, username string) (*model.User, error) {
	return r.first(dbc, "username = ?", username)
}

func (r *UserRepository) GetByEmail(dbc dbctx.Context, email string) (*model.User, error) {
	return r.first(dbc, "email = ?", email)
}

func (r *UserRepository) GetByID(dbc dbctx.Context, id uint) (*model.User, error) {
	return r.first(dbc, "id = ?", id)
}

func (r *UserRepository) first(dbc dbctx.Context, query string, arg interface{}) (*model.User, error) {
	var user model.User
	if err := pick(r.db, dbc).Where(query, arg).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user failed: %w", err)
	}
	return &user, nil
}
