package persistence

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/andrescamacho/spacetraders-go/internal/domain/container"
	"github.com/andrescamacho/spacetraders-go/internal/domain/shared"
)

// ShipAssignmentRepositoryGORM implements container.ShipAssignmentRepository
// using GORM, adapted from the teacher's ship assignment repository.
type ShipAssignmentRepositoryGORM struct {
	db    *gorm.DB
	clock shared.Clock
}

// NewShipAssignmentRepository creates a GORM-backed ship assignment repository.
func NewShipAssignmentRepository(db *gorm.DB, clock shared.Clock) *ShipAssignmentRepositoryGORM {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &ShipAssignmentRepositoryGORM{db: db, clock: clock}
}

func (r *ShipAssignmentRepositoryGORM) toDomain(m *ShipAssignmentModel) *container.ShipAssignment {
	return container.RecoverShipAssignment(
		m.ShipSymbol, m.PlayerID, m.ContainerID, m.Operation,
		container.AssignmentStatus(m.Status), m.AssignedAt, m.ReleasedAt, m.ReleaseReason,
		r.clock,
	)
}

// Assign upserts a ship assignment row keyed on (ship_symbol, player_id).
func (r *ShipAssignmentRepositoryGORM) Assign(ctx context.Context, a *container.ShipAssignment) error {
	model := &ShipAssignmentModel{
		ShipSymbol:  a.ShipSymbol(),
		PlayerID:    a.PlayerID(),
		ContainerID: a.ContainerID(),
		Operation:   a.Operation(),
		Status:      string(a.Status()),
		AssignedAt:  a.AssignedAt(),
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ship_symbol"}, {Name: "player_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"container_id", "operation", "status", "assigned_at", "released_at", "release_reason"}),
	}).Create(model).Error
	if err != nil {
		return fmt.Errorf("assign ship: %w", err)
	}
	return nil
}

// FindByShip retrieves the active assignment for a ship, scoped to player.
func (r *ShipAssignmentRepositoryGORM) FindByShip(ctx context.Context, shipSymbol string, playerID int) (*container.ShipAssignment, error) {
	var model ShipAssignmentModel
	err := r.db.WithContext(ctx).
		Where("ship_symbol = ? AND player_id = ? AND status = ?", shipSymbol, playerID, container.AssignmentStatusActive).
		First(&model).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find ship assignment: %w", err)
	}
	return r.toDomain(&model), nil
}

// FindByContainer retrieves all ship assignments bound to a container.
func (r *ShipAssignmentRepositoryGORM) FindByContainer(ctx context.Context, containerID string, playerID int) ([]*container.ShipAssignment, error) {
	var models []ShipAssignmentModel
	if err := r.db.WithContext(ctx).
		Where("container_id = ? AND player_id = ?", containerID, playerID).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("find container assignments: %w", err)
	}

	out := make([]*container.ShipAssignment, 0, len(models))
	for i := range models {
		out = append(out, r.toDomain(&models[i]))
	}
	return out, nil
}

// ListActive returns every currently active assignment.
func (r *ShipAssignmentRepositoryGORM) ListActive(ctx context.Context) ([]*container.ShipAssignment, error) {
	var models []ShipAssignmentModel
	if err := r.db.WithContext(ctx).Where("status = ?", container.AssignmentStatusActive).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list active assignments: %w", err)
	}

	out := make([]*container.ShipAssignment, 0, len(models))
	for i := range models {
		out = append(out, r.toDomain(&models[i]))
	}
	return out, nil
}

// Release marks the active assignment for a ship as released.
func (r *ShipAssignmentRepositoryGORM) Release(ctx context.Context, shipSymbol string, playerID int, reason string) error {
	now := r.clock.Now()
	result := r.db.WithContext(ctx).
		Model(&ShipAssignmentModel{}).
		Where("ship_symbol = ? AND player_id = ? AND status = ?", shipSymbol, playerID, container.AssignmentStatusActive).
		Updates(map[string]interface{}{
			"status":         string(container.AssignmentStatusReleased),
			"released_at":    now,
			"release_reason": reason,
		})
	if result.Error != nil {
		return fmt.Errorf("release ship assignment: %w", result.Error)
	}
	return nil
}

// ForceRelease is Release without erroring when there's nothing active.
func (r *ShipAssignmentRepositoryGORM) ForceRelease(ctx context.Context, shipSymbol string, playerID int, reason string) error {
	return r.Release(ctx, shipSymbol, playerID, reason)
}

// Reassign atomically rebinds the active assignment iff its container_id
// still equals oldContainerID.
func (r *ShipAssignmentRepositoryGORM) Reassign(ctx context.Context, shipSymbol string, oldContainerID, newContainerID string) (bool, error) {
	now := r.clock.Now()
	result := r.db.WithContext(ctx).
		Model(&ShipAssignmentModel{}).
		Where("ship_symbol = ? AND container_id = ? AND status = ?", shipSymbol, oldContainerID, container.AssignmentStatusActive).
		Updates(map[string]interface{}{
			"container_id":   newContainerID,
			"assigned_at":    now,
			"released_at":    nil,
			"release_reason": "",
			"status":         string(container.AssignmentStatusActive),
		})
	if result.Error != nil {
		return false, fmt.Errorf("reassign ship: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ReleaseByContainer releases every active assignment bound to a container.
func (r *ShipAssignmentRepositoryGORM) ReleaseByContainer(ctx context.Context, containerID string, reason string) (int, error) {
	now := r.clock.Now()
	result := r.db.WithContext(ctx).
		Model(&ShipAssignmentModel{}).
		Where("container_id = ? AND status = ?", containerID, container.AssignmentStatusActive).
		Updates(map[string]interface{}{
			"status":         string(container.AssignmentStatusReleased),
			"released_at":    now,
			"release_reason": reason,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("release container assignments: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

// ReleaseAllActive releases every active assignment, used on daemon shutdown.
func (r *ShipAssignmentRepositoryGORM) ReleaseAllActive(ctx context.Context, reason string) (int, error) {
	now := r.clock.Now()
	result := r.db.WithContext(ctx).
		Model(&ShipAssignmentModel{}).
		Where("status = ?", container.AssignmentStatusActive).
		Updates(map[string]interface{}{
			"status":         string(container.AssignmentStatusReleased),
			"released_at":    now,
			"release_reason": reason,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("release all active assignments: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

// CleanOrphaned releases every active assignment whose container_id is not
// in existingContainerIDs.
func (r *ShipAssignmentRepositoryGORM) CleanOrphaned(ctx context.Context, existingContainerIDs map[string]bool) (int, error) {
	ids := make([]string, 0, len(existingContainerIDs))
	for id := range existingContainerIDs {
		ids = append(ids, id)
	}

	now := r.clock.Now()
	query := r.db.WithContext(ctx).Model(&ShipAssignmentModel{}).Where("status = ?", container.AssignmentStatusActive)
	if len(ids) > 0 {
		query = query.Where("container_id NOT IN ?", ids)
	}
	result := query.Updates(map[string]interface{}{
		"status":         string(container.AssignmentStatusReleased),
		"released_at":    now,
		"release_reason": "orphaned_cleanup",
	})
	if result.Error != nil {
		return 0, fmt.Errorf("clean orphaned assignments: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

// CleanStale releases every active assignment older than timeout.
func (r *ShipAssignmentRepositoryGORM) CleanStale(ctx context.Context, timeout time.Duration) (int, error) {
	now := r.clock.Now()
	cutoff := now.Add(-timeout)
	result := r.db.WithContext(ctx).
		Model(&ShipAssignmentModel{}).
		Where("status = ? AND assigned_at < ?", container.AssignmentStatusActive, cutoff).
		Updates(map[string]interface{}{
			"status":         string(container.AssignmentStatusReleased),
			"released_at":    now,
			"release_reason": "stale_timeout",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("clean stale assignments: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}
