package repo

import (
	"context"
	"errors"
	"fmt"

	"Palaver/internal/db"
	"Palaver/internal/hub"
	"Palaver/internal/model"

	"go.mongodb.org/mongo-driver/mongo"
)

type UserRepository interface {
	hub.UserDirectory
	ListUsers(ctx context.Context) ([]model.User, error)
}

type userRepository struct {
	users *db.Repository[model.User]
}

func NewUserRepository(database *mongo.Database) UserRepository {
	return &userRepository{
		users: db.NewRepository[model.User](database, "users"),
	}
}

func (r *userRepository) GetUser(ctx context.Context, userID string) (*model.User, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	user, err := r.users.FindOne(ctx, db.NewFilter().Eq("user_id", userID).Build())
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("user %s: %w", userID, hub.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	return user, nil
}

func (r *userRepository) ListUsers(ctx context.Context) ([]model.User, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	users, err := r.users.FindAll(ctx, db.NewFilter().Eq("is_active", true).Build())
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}
