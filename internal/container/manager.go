// Package container provisions challenge instances and reaps expired containers.
package container

import (
	"context"
	"fmt"
	"time"

	"ctfboard/internal/game/model"
	"ctfboard/internal/game/repository"
	appErr "ctfboard/pkg/errors"
	"ctfboard/pkg/utils/logger"

	"go.uber.org/zap"
)

// Manager implements instance provisioning on top of the store and a Runtime.
type Manager struct {
	instances  repository.InstanceRepository
	containers repository.ContainerRepository
	runtime    Runtime
	now        func() time.Time
}

// NewManager creates a manager. runtime may be nil when no container engine is configured;
// container records are then deleted without touching an engine.
func NewManager(instances repository.InstanceRepository, containers repository.ContainerRepository, runtime Runtime, now func() time.Time) (*Manager, error) {
	if instances == nil || containers == nil {
		return nil, fmt.Errorf("instance and container repositories are required")
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{instances: instances, containers: containers, runtime: runtime, now: now}, nil
}

// EnsureInstances creates the missing instances of challenge for every accepted team.
func (m *Manager) EnsureInstances(ctx context.Context, game *model.Game, challenge *model.Challenge) error {
	created, err := m.instances.EnsureForChallenge(ctx, game.ID, challenge.ID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "ensure instances of challenge %d", challenge.ID)
	}
	if created > 0 {
		logger.Info(ctx, "challenge instances created",
			zap.Int64("game_id", game.ID),
			zap.Int64("challenge_id", challenge.ID),
			zap.Int64("created", created),
		)
	}
	return nil
}

// GetDyingContainers lists containers whose expected stop time has passed.
func (m *Manager) GetDyingContainers(ctx context.Context) ([]*model.Container, error) {
	containers, err := m.containers.ListDying(ctx, m.now().UTC())
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list dying containers")
	}
	return containers, nil
}

// DestroyContainer removes the container from the engine and deletes its record.
func (m *Manager) DestroyContainer(ctx context.Context, c *model.Container) error {
	if m.runtime != nil && c.RuntimeID != "" {
		if err := m.runtime.Remove(ctx, c.RuntimeID); err != nil {
			return appErr.Wrapf(err, appErr.ContainerDestroyFailed, "remove container %s", c.RuntimeID)
		}
	}
	if err := m.containers.Delete(ctx, c); err != nil {
		return appErr.Wrapf(err, appErr.ContainerDestroyFailed, "delete container record %d", c.ID)
	}
	logger.Info(ctx, "container destroyed",
		zap.Int64("container_id", c.ID),
		zap.String("runtime_id", c.RuntimeID),
	)
	return nil
}
