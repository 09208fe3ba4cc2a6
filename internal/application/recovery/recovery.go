// Package recovery implements C6: startup recovery. It runs once, before
// the RPC listener is bound, reconciling persisted container and
// assignment state left behind by a prior daemon process.
package recovery

import (
	"context"
	"fmt"
	"log"

	"github.com/andrescamacho/spacetraders-go/internal/application/containers"
	"github.com/andrescamacho/spacetraders-go/internal/domain/container"
)

// Recoverer runs the ordered startup recovery sequence described in the
// Health Monitor / Container Manager design: scan running candidates,
// validate, resume the valid ones, and reconcile ship assignments around
// whichever containers did or didn't come back.
type Recoverer struct {
	repo       container.Repository
	assignRepo container.ShipAssignmentRepository
	manager    *containers.Manager
}

// NewRecoverer builds a Recoverer.
func NewRecoverer(repo container.Repository, assignRepo container.ShipAssignmentRepository, manager *containers.Manager) *Recoverer {
	return &Recoverer{repo: repo, assignRepo: assignRepo, manager: manager}
}

// Result summarizes what recovery did, for the startup log line.
type Result struct {
	Resumed          int
	Failed           int
	ZombiesReleased  int
}

// Run executes the five-step recovery sequence. Only RUNNING/STARTING rows
// are candidates; STOPPED and FAILED containers are left untouched.
func (r *Recoverer) Run(ctx context.Context) (Result, error) {
	var result Result

	candidates, err := r.repo.ListByStatuses(ctx, []container.Status{container.StatusRunning, container.StatusStarting})
	if err != nil {
		return result, fmt.Errorf("list recovery candidates: %w", err)
	}

	resumable := make([]*container.Container, 0, len(candidates))
	resumableIDs := make(map[string]bool, len(candidates))

	for _, c := range candidates {
		if reason, ok := r.validate(c); !ok {
			if err := c.Fail(reason, fmt.Errorf("%s", reason)); err != nil {
				log.Printf("recovery: cannot fail invalid candidate %s: %v", c.ID(), err)
				continue
			}
			if err := r.repo.Update(ctx, c); err != nil {
				log.Printf("recovery: persist failed candidate %s: %v", c.ID(), err)
			}
			result.Failed++
			continue
		}
		resumable = append(resumable, c)
		resumableIDs[c.ID()] = true
	}

	// Step 4, part one: release zombie assignments bound to containers that
	// will not be resumed, BEFORE touching assignments for the survivors —
	// this must happen first so a stale row never masquerades as active for
	// a container we're about to bring back.
	active, err := r.assignRepo.ListActive(ctx)
	if err != nil {
		return result, fmt.Errorf("list active assignments: %w", err)
	}
	for _, a := range active {
		if resumableIDs[a.ContainerID()] {
			continue
		}
		if err := r.assignRepo.Release(ctx, a.ShipSymbol(), a.PlayerID(), "stale_cleanup"); err != nil {
			log.Printf("recovery: release zombie assignment %s: %v", a.ShipSymbol(), err)
			continue
		}
		result.ZombiesReleased++
	}

	// Step 4, part two: ensure each resumed container's assignments are
	// present and active, creating any that are missing.
	activeByShip := make(map[string]bool, len(active))
	for _, a := range active {
		if resumableIDs[a.ContainerID()] {
			activeByShip[a.ShipSymbol()] = true
		}
	}
	for _, c := range resumable {
		for _, ship := range containers.ShipSymbols(c.Config()) {
			if activeByShip[ship] {
				continue
			}
			assignment := container.NewShipAssignment(ship, c.PlayerID(), c.ID(), string(c.CommandType()), nil)
			if err := r.assignRepo.Assign(ctx, assignment); err != nil {
				log.Printf("recovery: recreate assignment for ship %s on %s: %v", ship, c.ID(), err)
			}
		}
	}

	// Step 3: reconstruct the executor and resume the background task.
	for _, c := range resumable {
		if err := r.manager.Resume(ctx, c); err != nil {
			log.Printf("recovery: resume %s failed: %v", c.ID(), err)
			result.Failed++
			continue
		}
		result.Resumed++
	}

	return result, nil
}

// validate reports whether a candidate's referenced ships and config are
// well-formed enough to resume, and a reason string if not.
func (r *Recoverer) validate(c *container.Container) (string, bool) {
	if c.Config() == nil {
		return "recovered container has no config", false
	}
	ships := containers.ShipSymbols(c.Config())
	for _, ship := range ships {
		if ship == "" {
			return "recovered container references an empty ship symbol", false
		}
	}
	return "", true
}
