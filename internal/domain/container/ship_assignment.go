package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/andrescamacho/spacetraders-go/internal/domain/shared"
)

// AssignmentStatus represents the state of a ship assignment.
type AssignmentStatus string

const (
	AssignmentStatusActive   AssignmentStatus = "active"
	AssignmentStatusReleased AssignmentStatus = "released"
)

// ShipAssignment is an exclusive lock binding one ship to one container for
// the duration of an operation.
type ShipAssignment struct {
	shipSymbol    string
	playerID      int
	containerID   string
	operation     string
	status        AssignmentStatus
	assignedAt    time.Time
	releasedAt    *time.Time
	releaseReason string
	clock         shared.Clock
}

// NewShipAssignment creates a new active ship assignment.
func NewShipAssignment(shipSymbol string, playerID int, containerID, operation string, clock shared.Clock) *ShipAssignment {
	if clock == nil {
		clock = shared.NewRealClock()
	}

	return &ShipAssignment{
		shipSymbol:  shipSymbol,
		playerID:    playerID,
		containerID: containerID,
		operation:   operation,
		status:      AssignmentStatusActive,
		assignedAt:  clock.Now(),
		clock:       clock,
	}
}

// RecoverShipAssignment reconstructs an assignment from a persisted row.
func RecoverShipAssignment(
	shipSymbol string,
	playerID int,
	containerID, operation string,
	status AssignmentStatus,
	assignedAt time.Time,
	releasedAt *time.Time,
	releaseReason string,
	clock shared.Clock,
) *ShipAssignment {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &ShipAssignment{
		shipSymbol:    shipSymbol,
		playerID:      playerID,
		containerID:   containerID,
		operation:     operation,
		status:        status,
		assignedAt:    assignedAt,
		releasedAt:    releasedAt,
		releaseReason: releaseReason,
		clock:         clock,
	}
}

func (sa *ShipAssignment) ShipSymbol() string       { return sa.shipSymbol }
func (sa *ShipAssignment) PlayerID() int            { return sa.playerID }
func (sa *ShipAssignment) ContainerID() string      { return sa.containerID }
func (sa *ShipAssignment) Operation() string        { return sa.operation }
func (sa *ShipAssignment) Status() AssignmentStatus { return sa.status }
func (sa *ShipAssignment) AssignedAt() time.Time    { return sa.assignedAt }
func (sa *ShipAssignment) ReleasedAt() *time.Time   { return sa.releasedAt }
func (sa *ShipAssignment) ReleaseReason() string    { return sa.releaseReason }
func (sa *ShipAssignment) IsActive() bool           { return sa.status == AssignmentStatusActive }

// Release marks the assignment released with a reason. Fails if already
// released.
func (sa *ShipAssignment) Release(reason string) error {
	if sa.status == AssignmentStatusReleased {
		return shared.NewLockError("assignment already released")
	}
	now := sa.clock.Now()
	sa.status = AssignmentStatusReleased
	sa.releasedAt = &now
	sa.releaseReason = reason
	return nil
}

// ForceRelease releases unconditionally, used by stale/orphan cleanup.
func (sa *ShipAssignment) ForceRelease(reason string) {
	now := sa.clock.Now()
	sa.status = AssignmentStatusReleased
	sa.releasedAt = &now
	sa.releaseReason = reason
}

// Reassign rebinds an active assignment to a new container id, refreshing
// assigned_at and clearing released_at/release_reason. Callers must already
// have verified containerID == old id (the manager enforces the atomic
// compare-and-swap; this method just performs the mutation).
func (sa *ShipAssignment) Reassign(newContainerID string, now time.Time) {
	sa.containerID = newContainerID
	sa.assignedAt = now
	sa.releasedAt = nil
	sa.releaseReason = ""
	sa.status = AssignmentStatusActive
}

// IsStale reports whether the assignment's age strictly exceeds timeout.
// Boundary: an assignment aged exactly timeout is NOT stale.
func (sa *ShipAssignment) IsStale(timeout time.Duration, now time.Time) bool {
	if sa.status == AssignmentStatusReleased {
		return false
	}
	return now.Sub(sa.assignedAt) > timeout
}

func (sa *ShipAssignment) String() string {
	return fmt.Sprintf("ShipAssignment[ship=%s, container=%s, op=%s, status=%s]",
		sa.shipSymbol, sa.containerID, sa.operation, sa.status)
}

// ShipAssignmentManager is the in-memory mirror of C4: a mutex-guarded map
// enforcing the single-active-assignment-per-ship invariant, backed by a
// Repository for durability. All operations appear linearisable with
// respect to one another.
type ShipAssignmentManager struct {
	mu          sync.Mutex
	assignments map[string]*ShipAssignment // key: shipSymbol
	repo        ShipAssignmentRepository
	clock       shared.Clock
}

// NewShipAssignmentManager creates a manager backed by repo.
func NewShipAssignmentManager(repo ShipAssignmentRepository, clock shared.Clock) *ShipAssignmentManager {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &ShipAssignmentManager{
		assignments: make(map[string]*ShipAssignment),
		repo:        repo,
		clock:       clock,
	}
}

// Hydrate loads the current active assignments from the repository into the
// in-memory map. Called once at startup after C6 has released zombies.
func (m *ShipAssignmentManager) Hydrate(ctx context.Context) error {
	active, err := m.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("hydrate ship assignments: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range active {
		m.assignments[a.ShipSymbol()] = a
	}
	return nil
}

// Assign binds a ship to a container. Fails if the ship already has an
// active assignment.
func (m *ShipAssignmentManager) Assign(ctx context.Context, shipSymbol string, playerID int, containerID, operation string) (*ShipAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.assignments[shipSymbol]; ok && existing.IsActive() {
		if existing.PlayerID() != playerID {
			return nil, shared.NewLockError("ship player_id mismatch")
		}
		return nil, shared.NewLockError("ship is already assigned to another container")
	}

	assignment := NewShipAssignment(shipSymbol, playerID, containerID, operation, m.clock)
	if err := m.repo.Assign(ctx, assignment); err != nil {
		return nil, err
	}
	m.assignments[shipSymbol] = assignment
	return assignment, nil
}

// Get returns the current in-memory assignment for a ship, if any.
func (m *ShipAssignmentManager) Get(shipSymbol string) (*ShipAssignment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[shipSymbol]
	return a, ok
}

// Release releases a ship's active assignment with a reason.
func (m *ShipAssignmentManager) Release(ctx context.Context, shipSymbol, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assignments[shipSymbol]
	if !ok {
		return shared.NewLockError("no assignment found")
	}
	if err := a.Release(reason); err != nil {
		return err
	}
	return m.repo.Release(ctx, shipSymbol, a.PlayerID(), reason)
}

// ForceRelease releases idempotently, used by cleanup paths.
func (m *ShipAssignmentManager) ForceRelease(ctx context.Context, shipSymbol, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assignments[shipSymbol]
	if !ok {
		return nil
	}
	a.ForceRelease(reason)
	return m.repo.ForceRelease(ctx, shipSymbol, a.PlayerID(), reason)
}

// Reassign atomically rebinds shipSymbol's active assignment from
// oldContainerID to newContainerID. A no-op success if already bound to
// newContainerID; fails if bound to any other id.
func (m *ShipAssignmentManager) Reassign(ctx context.Context, shipSymbol, oldContainerID, newContainerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assignments[shipSymbol]
	if !ok || !a.IsActive() {
		return shared.NewLockError("no assignment found")
	}
	if a.ContainerID() == newContainerID {
		return nil
	}
	if a.ContainerID() != oldContainerID {
		return shared.NewLockError("assignment bound to a different container")
	}

	ok2, err := m.repo.Reassign(ctx, shipSymbol, oldContainerID, newContainerID)
	if err != nil {
		return err
	}
	if !ok2 {
		return shared.NewLockError("assignment bound to a different container")
	}
	a.Reassign(newContainerID, m.clock.Now())
	return nil
}

// ReleaseAll releases every active assignment with reason, preempting any
// in-flight operation racing with shutdown: it takes a snapshot of the map
// under lock and releases every entry found there.
func (m *ShipAssignmentManager) ReleaseAll(ctx context.Context, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.assignments {
		if a.IsActive() {
			a.ForceRelease(reason)
		}
	}
	_, err := m.repo.ReleaseAllActive(ctx, reason)
	return err
}

// CleanOrphaned releases every active assignment whose container id is not
// in existingContainerIDs, reason "orphaned_cleanup". Returns the count
// cleaned.
func (m *ShipAssignmentManager) CleanOrphaned(ctx context.Context, existingContainerIDs map[string]bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cleaned := 0
	for _, a := range m.assignments {
		if !a.IsActive() {
			continue
		}
		if !existingContainerIDs[a.ContainerID()] {
			a.ForceRelease("orphaned_cleanup")
			cleaned++
		}
	}
	if cleaned > 0 {
		if _, err := m.repo.CleanOrphaned(ctx, existingContainerIDs); err != nil {
			return cleaned, err
		}
	}
	return cleaned, nil
}

// CleanStale releases every active assignment older than timeout, reason
// "stale_timeout". Returns the count cleaned.
func (m *ShipAssignmentManager) CleanStale(ctx context.Context, timeout time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	cleaned := 0
	for _, a := range m.assignments {
		if !a.IsActive() {
			continue
		}
		if a.IsStale(timeout, now) {
			a.ForceRelease("stale_timeout")
			cleaned++
		}
	}
	if cleaned > 0 {
		if _, err := m.repo.CleanStale(ctx, timeout); err != nil {
			return cleaned, err
		}
	}
	return cleaned, nil
}

// ActiveCount returns the number of currently active assignments in the
// in-memory map (used by tests; health_check's active_containers comes from
// the container manager instead).
func (m *ShipAssignmentManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.assignments {
		if a.IsActive() {
			n++
		}
	}
	return n
}
