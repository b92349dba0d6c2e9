package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kerucko/scheduler/internal/logger"
	"github.com/kerucko/scheduler/internal/models"
	"github.com/kerucko/scheduler/internal/repository"
	"github.com/kerucko/scheduler/internal/utils"
)

var (
	ErrUnauthorized = errors.New("Invalid credentials")
	ErrEmailTaken   = errors.New("Email is already registered")
	ErrUserNotFound = errors.New("User not found")
)

type userRepository interface {
	Create(ctx context.Context, u *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetAll(ctx context.Context) ([]models.User, error)
}

type tokenIssuer interface {
	GenerateToken(user *models.User) (string, error)
}

type Service struct {
	repo userRepository
	auth tokenIssuer
	log  logrus.FieldLogger
}

func NewService(r userRepository, auth tokenIssuer, log logrus.FieldLogger) *Service {
	return &Service{repo: r, auth: auth, log: log.WithField("component", "users")}
}

func (s *Service) Register(ctx context.Context, input models.RegisterRequest) (*models.User, error) {
	hash, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &models.User{
		Email:        strings.ToLower(strings.TrimSpace(input.Email)),
		Name:         strings.TrimSpace(input.Name),
		PasswordHash: hash,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	logger.FromContext(ctx, s.log).WithField("user_id", user.ID).Info("user registered")
	return user, nil
}

func (s *Service) Login(ctx context.Context, input models.LoginRequest) (*models.LoginResponse, error) {
	user, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(input.Email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !utils.CheckPasswordHash(input.Password, user.PasswordHash) {
		return nil, ErrUnauthorized
	}
	token, err := s.auth.GenerateToken(user)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &models.LoginResponse{AccessToken: token, User: user}, nil
}

func (s *Service) GetAll(ctx context.Context) ([]models.User, error) {
	users, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []models.User{}
	}
	return users, nil
}

func (s *Service) GetByID(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}
