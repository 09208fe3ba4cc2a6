package container

import (
	"context"
	"time"
)

// Repository defines persistence operations for containers.
type Repository interface {
	// Add persists a new container row.
	Add(ctx context.Context, c *Container) error

	// Update persists the full mutable state of an existing container (status,
	// timestamps, exit info, iteration/restart counters, metadata).
	Update(ctx context.Context, c *Container) error

	// Get retrieves a single container by id, scoped to its owning player.
	// Returns (nil, nil) if not found.
	Get(ctx context.Context, id string, playerID int) (*Container, error)

	// List returns containers, optionally filtered by player and/or status.
	List(ctx context.Context, playerID *int, status *Status) ([]*Container, error)

	// ListByStatuses returns containers whose status is one of the given set,
	// used by startup recovery to find RUNNING/STARTING rows.
	ListByStatuses(ctx context.Context, statuses []Status) ([]*Container, error)

	// Remove deletes a container row. Callers must have already verified the
	// container is terminal.
	Remove(ctx context.Context, id string, playerID int) error
}

// ShipAssignmentRepository defines persistence operations for ship
// assignments.
type ShipAssignmentRepository interface {
	// Assign creates or updates (upsert) a ship assignment row.
	Assign(ctx context.Context, assignment *ShipAssignment) error

	// FindByShip retrieves the active assignment for a ship, scoped to the
	// owning player. Returns (nil, nil) if the ship has no active assignment;
	// released rows are not returned.
	FindByShip(ctx context.Context, shipSymbol string, playerID int) (*ShipAssignment, error)

	// FindByContainer retrieves all ship assignments bound to a container.
	FindByContainer(ctx context.Context, containerID string, playerID int) ([]*ShipAssignment, error)

	// ListActive returns every currently active assignment, used by the
	// health monitor and startup recovery.
	ListActive(ctx context.Context) ([]*ShipAssignment, error)

	// Release marks a ship's active assignment as released.
	Release(ctx context.Context, shipSymbol string, playerID int, reason string) error

	// ForceRelease is Release without the already-released error; used by
	// orphan/stale cleanup paths that don't care if there's nothing to do.
	ForceRelease(ctx context.Context, shipSymbol string, playerID int, reason string) error

	// Reassign atomically rebinds the active assignment for shipSymbol from
	// oldContainerID to newContainerID, refreshing assigned_at and clearing
	// released_at/release_reason, iff the active assignment's container_id
	// still equals oldContainerID. Returns false (no error) if the
	// precondition didn't hold.
	Reassign(ctx context.Context, shipSymbol string, oldContainerID, newContainerID string) (bool, error)

	// ReleaseByContainer releases every active assignment bound to a
	// container.
	ReleaseByContainer(ctx context.Context, containerID string, reason string) (int, error)

	// ReleaseAllActive releases every active assignment, used on daemon
	// shutdown.
	ReleaseAllActive(ctx context.Context, reason string) (int, error)

	// CleanOrphaned releases every active assignment whose container_id is
	// not in existingContainerIDs, reason "orphaned_cleanup".
	CleanOrphaned(ctx context.Context, existingContainerIDs map[string]bool) (int, error)

	// CleanStale releases every active assignment older than timeout,
	// reason "stale_timeout".
	CleanStale(ctx context.Context, timeout time.Duration) (int, error)
}
