package users

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/apperr"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/db"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/metrics"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// UserService handles user-related operations
type UserService struct {
	db       *db.DB
	metrics  *metrics.AppMetrics
	validate *validator.Validate
}

// NewUserService creates a new user service
func NewUserService(db *db.DB, metrics *metrics.AppMetrics) *UserService {
	return &UserService{
		db:       db,
		metrics:  metrics,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type createUserInput struct {
	Email string `validate:"required,email,max=255"`
	Name  string `validate:"max=255"`
}

// CreateUser creates a new user
func (s *UserService) CreateUser(ctx context.Context, email, name string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)
	if err := s.validate.Struct(createUserInput{Email: email, Name: name}); err != nil {
		return nil, apperr.Validation("invalid user: %v", err)
	}

	user := &models.User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	start := time.Now()
	query := "INSERT INTO users (id, email, name, created_at) VALUES (?, ?, ?, ?)"
	_, err := s.db.ExecContext(ctx, query, user.ID, user.Email, user.Name, user.CreatedAt)
	s.metrics.RecordDBQuery(ctx, "INSERT", "users", query, start, err == nil)
	if err != nil {
		if db.IsDuplicateEntry(err) {
			return nil, apperr.Conflict(apperr.CodeUserExists, "user %s already exists", email)
		}
		return nil, apperr.Infrastructure(err, "failed to create user")
	}

	log.Printf("[USER] User created: user_id=%s", user.ID)
	return user, nil
}

// GetUser returns a user by ID
func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.getBy(ctx, "id", id)
}

// GetUserByEmail returns a user by email
func (s *UserService) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getBy(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

func (s *UserService) getBy(ctx context.Context, column, value string) (*models.User, error) {
	start := time.Now()

	query := "SELECT id, email, name, created_at FROM users WHERE " + column + " = ?"
	var user models.User
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&user.ID, &user.Email, &user.Name, &user.CreatedAt,
	)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil || errors.Is(err, sql.ErrNoRows))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(apperr.CodeUserNotFound, "user not found")
	}
	if err != nil {
		return nil, apperr.Infrastructure(err, "failed to get user")
	}
	return &user, nil
}
