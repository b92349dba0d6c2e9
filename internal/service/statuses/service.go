package statuses

import (
	"context"

	"github.com/kerucko/scheduler/internal/models"
)

type statusRepository interface {
	GetAll(ctx context.Context) ([]models.Status, error)
}

type Service struct {
	repo statusRepository
}

func NewService(r statusRepository) *Service {
	return &Service{repo: r}
}

func (s *Service) GetAll(ctx context.Context) ([]models.Status, error) {
	statuses, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if statuses == nil {
		statuses = []models.Status{}
	}
	return statuses, nil
}
