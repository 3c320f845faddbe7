package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/skyfield-eats/api/internal/repositories"
)

type systemService struct {
	health repositories.HealthRepository
}

// NewSystemService constructs the utility service backing health endpoints.
func NewSystemService(health repositories.HealthRepository) (SystemService, error) {
	if health == nil {
		return nil, errors.New("system service: health repository is required")
	}
	return &systemService{health: health}, nil
}

func (s *systemService) Healthy(ctx context.Context) error {
	if err := s.health.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
