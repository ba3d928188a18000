package repository

import (
	"context"
	"time"

	"ctfboard/internal/common/db"
	"ctfboard/internal/game/model"
)

// ContainerRepository tracks running challenge containers.
type ContainerRepository interface {
	// ListDying returns containers whose expected stop time is not after now.
	ListDying(ctx context.Context, now time.Time) ([]*model.Container, error)
	// Delete removes the container record and clears the instance reference.
	Delete(ctx context.Context, container *model.Container) error
}

// MySQLContainerRepository implements ContainerRepository with MySQL.
type MySQLContainerRepository struct {
	db db.Database
}

// NewContainerRepository creates a container repository.
func NewContainerRepository(database db.Database) *MySQLContainerRepository {
	return &MySQLContainerRepository{db: database}
}

func (r *MySQLContainerRepository) ListDying(ctx context.Context, now time.Time) ([]*model.Container, error) {
	query := `
		SELECT id, instance_id, game_id, runtime_id, image, started_at, expect_stop_at
		FROM containers WHERE expect_stop_at <= ? ORDER BY expect_stop_at
	`
	rows, err := r.db.Query(ctx, query, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Container
	for rows.Next() {
		c := &model.Container{}
		if err := rows.Scan(&c.ID, &c.InstanceID, &c.GameID, &c.RuntimeID, &c.Image, &c.StartedAt, &c.ExpectStopAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *MySQLContainerRepository) Delete(ctx context.Context, container *model.Container) error {
	return r.db.Transaction(ctx, func(tx db.Transaction) error {
		if _, err := tx.Exec(ctx, "UPDATE game_instances SET container_id = NULL WHERE container_id = ?", container.ID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, "DELETE FROM containers WHERE id = ?", container.ID)
		return err
	})
}

var _ ContainerRepository = (*MySQLContainerRepository)(nil)
