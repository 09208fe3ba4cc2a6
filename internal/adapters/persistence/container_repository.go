package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/andrescamacho/spacetraders-go/internal/domain/container"
	"github.com/andrescamacho/spacetraders-go/internal/domain/shared"
)

// ContainerRepositoryGORM implements container.Repository on top of GORM,
// adapted from the teacher's container repository to the daemon's simpler,
// single-table container row.
type ContainerRepositoryGORM struct {
	db    *gorm.DB
	clock shared.Clock
}

// NewContainerRepository creates a GORM-backed container repository.
func NewContainerRepository(db *gorm.DB, clock shared.Clock) *ContainerRepositoryGORM {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &ContainerRepositoryGORM{db: db, clock: clock}
}

func toModel(c *container.Container) (*ContainerModel, error) {
	configJSON, err := json.Marshal(c.Config())
	if err != nil {
		return nil, fmt.Errorf("serialize config: %w", err)
	}
	metaJSON, err := json.Marshal(c.Metadata())
	if err != nil {
		return nil, fmt.Errorf("serialize metadata: %w", err)
	}

	lastErrMsg := ""
	if c.LastError() != nil {
		lastErrMsg = c.LastError().Error()
	}

	return &ContainerModel{
		ID:               c.ID(),
		PlayerID:         c.PlayerID(),
		CommandType:      string(c.CommandType()),
		Config:           string(configJSON),
		Status:           string(c.Status()),
		CreatedAt:        c.CreatedAt(),
		UpdatedAt:        c.UpdatedAt(),
		StartedAt:        c.StartedAt(),
		StoppedAt:        c.StoppedAt(),
		ExitCode:         c.ExitCode(),
		ExitReason:       c.ExitReason(),
		RestartCount:     c.RestartCount(),
		MaxRestarts:      c.MaxRestarts(),
		CurrentIteration: c.CurrentIteration(),
		MaxIterations:    c.MaxIterations(),
		Metadata:         string(metaJSON),
		LastErrorMessage: lastErrMsg,
	}, nil
}

func (r *ContainerRepositoryGORM) fromModel(m *ContainerModel) (*container.Container, error) {
	var config map[string]interface{}
	if m.Config != "" {
		if err := json.Unmarshal([]byte(m.Config), &config); err != nil {
			return nil, fmt.Errorf("parse config for %s: %w", m.ID, err)
		}
	}
	var metadata map[string]interface{}
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &metadata); err != nil {
			return nil, fmt.Errorf("parse metadata for %s: %w", m.ID, err)
		}
	}

	var lastErr error
	if m.LastErrorMessage != "" {
		lastErr = fmt.Errorf("%s", m.LastErrorMessage)
	}

	return container.RecoverContainer(
		m.ID,
		container.CommandType(m.CommandType),
		m.PlayerID,
		config,
		container.Status(m.Status),
		m.CreatedAt, m.UpdatedAt,
		m.StartedAt, m.StoppedAt,
		m.ExitCode, m.ExitReason,
		m.RestartCount, m.MaxRestarts,
		m.CurrentIteration, m.MaxIterations,
		metadata,
		lastErr,
		r.clock,
	), nil
}

// Add persists a new container row.
func (r *ContainerRepositoryGORM) Add(ctx context.Context, c *container.Container) error {
	model, err := toModel(c)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("insert container: %w", err)
	}
	return nil
}

// Update persists the full mutable state of an existing container.
func (r *ContainerRepositoryGORM) Update(ctx context.Context, c *container.Container) error {
	model, err := toModel(c)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).
		Where("id = ? AND player_id = ?", c.ID(), c.PlayerID()).
		Save(model)
	if result.Error != nil {
		return fmt.Errorf("update container: %w", result.Error)
	}
	return nil
}

// Get retrieves a single container by id, scoped to player.
func (r *ContainerRepositoryGORM) Get(ctx context.Context, id string, playerID int) (*container.Container, error) {
	var model ContainerModel
	result := r.db.WithContext(ctx).Where("id = ? AND player_id = ?", id, playerID).First(&model)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get container: %w", result.Error)
	}
	return r.fromModel(&model)
}

// List returns containers, optionally filtered by player and/or status.
func (r *ContainerRepositoryGORM) List(ctx context.Context, playerID *int, status *container.Status) ([]*container.Container, error) {
	query := r.db.WithContext(ctx)
	if playerID != nil {
		query = query.Where("player_id = ?", *playerID)
	}
	if status != nil {
		query = query.Where("status = ?", string(*status))
	}

	var models []*ContainerModel
	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]*container.Container, 0, len(models))
	for _, m := range models {
		c, err := r.fromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ListByStatuses returns containers whose status is one of statuses.
func (r *ContainerRepositoryGORM) ListByStatuses(ctx context.Context, statuses []container.Status) ([]*container.Container, error) {
	strs := make([]string, len(statuses))
	for i, s := range statuses {
		strs[i] = string(s)
	}

	var models []*ContainerModel
	if err := r.db.WithContext(ctx).Where("status IN ?", strs).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list containers by status: %w", err)
	}

	out := make([]*container.Container, 0, len(models))
	for _, m := range models {
		c, err := r.fromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Remove deletes a container row. Callers must have already verified the
// container is terminal.
func (r *ContainerRepositoryGORM) Remove(ctx context.Context, id string, playerID int) error {
	result := r.db.WithContext(ctx).Where("id = ? AND player_id = ?", id, playerID).Delete(&ContainerModel{})
	if result.Error != nil {
		return fmt.Errorf("remove container: %w", result.Error)
	}
	return nil
}
