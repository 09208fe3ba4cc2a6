package persistence

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/andrescamacho/spacetraders-go/internal/domain/shared"
)

// ContainerLogRepository manages append-only container log persistence. Logs
// are owned by the container id alone; ordering is guaranteed only within a
// single container, via seq.
type ContainerLogRepository interface {
	// Append writes one log line for containerID with a monotonically
	// increasing seq, scoped to that container. Message is stored raw; the
	// repository must not interpret it beyond making it JSON-safe on read.
	Append(ctx context.Context, containerID string, level string, message string) error

	// GetLogs retrieves logs for a container in append order, optionally
	// filtered to a minimum level and capped at limit (0 means no cap).
	GetLogs(ctx context.Context, containerID string, level *string, limit int) ([]ContainerLogEntry, error)
}

// ContainerLogEntry is a JSON-safe log line ready for the get_logs RPC.
type ContainerLogEntry struct {
	Seq     int64     `json:"seq"`
	Ts      time.Time `json:"ts"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// GormContainerLogRepository is a GORM-backed implementation of
// ContainerLogRepository, adapted from the teacher's log repository: the
// dedup cache is dropped since the spec stores every append raw, and seq
// replaces the teacher's PlayerID-scoped ordering with a per-container
// monotonic counter guarded in memory.
type GormContainerLogRepository struct {
	db    *gorm.DB
	clock shared.Clock

	seqMu   sync.Mutex
	seqNext map[string]int64 // container id -> next seq to assign
}

// NewGormContainerLogRepository creates a container log repository. If clock
// is nil, uses RealClock.
func NewGormContainerLogRepository(db *gorm.DB, clock shared.Clock) *GormContainerLogRepository {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &GormContainerLogRepository{
		db:      db,
		clock:   clock,
		seqNext: make(map[string]int64),
	}
}

// nextSeq assigns the next seq for a container, hydrating from the current
// max on first use so a restarted daemon continues the sequence rather than
// restarting it at zero. A container with no stored logs starts at seq 0.
func (r *GormContainerLogRepository) nextSeq(ctx context.Context, containerID string) (int64, error) {
	r.seqMu.Lock()
	defer r.seqMu.Unlock()

	if _, ok := r.seqNext[containerID]; !ok {
		var model ContainerLogModel
		err := r.db.WithContext(ctx).
			Where("container_id = ?", containerID).
			Order("seq DESC").
			First(&model).Error
		if err != nil && err != gorm.ErrRecordNotFound {
			return 0, fmt.Errorf("load max seq for %s: %w", containerID, err)
		}
		if err == gorm.ErrRecordNotFound {
			r.seqNext[containerID] = 0
		} else {
			r.seqNext[containerID] = model.Seq + 1
		}
	}

	seq := r.seqNext[containerID]
	r.seqNext[containerID] = seq + 1
	return seq, nil
}

// levelSeverity ranks log levels so "minimum level" filters can be expressed
// as a numeric threshold rather than an exact match.
var levelSeverity = map[string]int{
	"DEBUG":   0,
	"INFO":    1,
	"WARNING": 2,
	"ERROR":   3,
}

// levelsAtOrAbove returns every level at or above the given minimum.
func levelsAtOrAbove(min string) []string {
	threshold, ok := levelSeverity[min]
	if !ok {
		return []string{min}
	}
	levels := make([]string, 0, len(levelSeverity))
	for lvl, sev := range levelSeverity {
		if sev >= threshold {
			levels = append(levels, lvl)
		}
	}
	return levels
}

// sanitize makes a message safe to round-trip through JSON by replacing
// invalid UTF-8 sequences rather than interpreting the message's content.
func sanitize(message string) string {
	if utf8.ValidString(message) {
		return message
	}
	return strings.ToValidUTF8(message, "�")
}

// Append persists one log line for containerID with a freshly assigned seq.
func (r *GormContainerLogRepository) Append(ctx context.Context, containerID string, level string, message string) error {
	seq, err := r.nextSeq(ctx, containerID)
	if err != nil {
		return err
	}

	entry := &ContainerLogModel{
		ContainerID: containerID,
		Seq:         seq,
		Timestamp:   r.clock.Now(),
		Level:       level,
		Message:     sanitize(message),
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("append log for %s: %w", containerID, err)
	}
	return nil
}

// GetLogs retrieves the most recent limit logs for a container (0 means no
// cap), returned oldest first.
func (r *GormContainerLogRepository) GetLogs(ctx context.Context, containerID string, level *string, limit int) ([]ContainerLogEntry, error) {
	var models []ContainerLogModel

	query := r.db.WithContext(ctx).Where("container_id = ?", containerID)
	if level != nil {
		query = query.Where("level IN ?", levelsAtOrAbove(*level))
	}
	// Fetch newest-first so limit keeps the most recent entries, then
	// reverse below to the oldest-first order the RPC contract requires.
	query = query.Order("seq DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("get logs for %s: %w", containerID, err)
	}

	entries := make([]ContainerLogEntry, len(models))
	for i, m := range models {
		entries[len(models)-1-i] = ContainerLogEntry{
			Seq:     m.Seq,
			Ts:      m.Timestamp,
			Level:   m.Level,
			Message: sanitize(m.Message),
		}
	}
	return entries, nil
}
