package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// gormStore implements Store on top of gorm
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new Store instance backed by gorm
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// Transaction runs fn inside a database transaction (a savepoint when already inside one)
func (r *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}
