package containers

import (
	"context"

	"github.com/andrescamacho/spacetraders-go/internal/domain/container"
)

// containerHandle implements container.ContainerHandle, the narrow surface
// an executor uses to report progress back through the manager.
type containerHandle struct {
	manager   *Manager
	container *container.Container
}

// Log appends one structured log line, owned by C3.
func (h *containerHandle) Log(level, message string) {
	_ = h.manager.logs.Append(context.Background(), h.container.ID(), level, message)
}

// UpdateMetadata merges a single key/value into the container's metadata and
// persists it.
func (h *containerHandle) UpdateMetadata(key string, value interface{}) {
	h.container.UpdateMetadata(map[string]interface{}{key: value})
	_ = h.manager.repo.Update(context.Background(), h.container)
}

// IncrementIteration advances the container's iteration counter and
// persists it.
func (h *containerHandle) IncrementIteration() {
	if err := h.container.IncrementIteration(); err != nil {
		return
	}
	_ = h.manager.repo.Update(context.Background(), h.container)
}

// CheckCancellation reports whether this container's task has been
// cancelled (a stop was signalled) or is no longer tracked at all.
func (h *containerHandle) CheckCancellation() bool {
	h.manager.mu.Lock()
	t, ok := h.manager.tasks[h.container.ID()]
	h.manager.mu.Unlock()
	if !ok {
		return true
	}
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// ShouldContinue reports whether the container's max_iterations budget
// allows another circuit.
func (h *containerHandle) ShouldContinue() bool {
	return h.container.ShouldContinue()
}
