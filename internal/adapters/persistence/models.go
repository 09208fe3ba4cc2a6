package persistence

import "time"

// ContainerModel is the containers table row: id PK, player_id,
// command_type, config (JSON text), status, created_at, updated_at,
// started_at, stopped_at, exit_code, exit_reason, restart_count,
// max_restarts, current_iteration, max_iterations, metadata (JSON text),
// last_error_message.
type ContainerModel struct {
	ID               string     `gorm:"column:id;primaryKey;not null"`
	PlayerID         int        `gorm:"column:player_id;not null;index:idx_containers_player_status"`
	CommandType      string     `gorm:"column:command_type;not null"`
	Config           string     `gorm:"column:config;type:text"` // JSON as text
	Status           string     `gorm:"column:status;not null;index:idx_containers_player_status"`
	CreatedAt        time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;not null"`
	StartedAt        *time.Time `gorm:"column:started_at"`
	StoppedAt        *time.Time `gorm:"column:stopped_at"`
	ExitCode         *int       `gorm:"column:exit_code"`
	ExitReason       string     `gorm:"column:exit_reason"`
	RestartCount     int        `gorm:"column:restart_count;default:0"`
	MaxRestarts      int        `gorm:"column:max_restarts;default:3"`
	CurrentIteration int        `gorm:"column:current_iteration;default:0"`
	MaxIterations    int        `gorm:"column:max_iterations;default:0"`
	Metadata         string     `gorm:"column:metadata;type:text"` // JSON as text
	LastErrorMessage string     `gorm:"column:last_error_message;type:text"`
}

func (ContainerModel) TableName() string { return "containers" }

// ContainerLogModel is the container_logs table row: container_id, seq, ts,
// level, message.
type ContainerLogModel struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ContainerID string    `gorm:"column:container_id;not null;index:idx_container_logs_container_seq"`
	Seq         int64     `gorm:"column:seq;not null;index:idx_container_logs_container_seq"`
	Timestamp   time.Time `gorm:"column:ts;not null"`
	Level       string    `gorm:"column:level;not null"`
	Message     string    `gorm:"column:message;type:text;not null"`
}

func (ContainerLogModel) TableName() string { return "container_logs" }

// ShipAssignmentModel is the ship_assignments table row: ship_symbol,
// player_id, container_id, operation, status, assigned_at, released_at,
// release_reason. A unique index on (ship_symbol, player_id) keeps one row
// per ship and player, which Assign's upsert relies on.
type ShipAssignmentModel struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	ShipSymbol    string     `gorm:"column:ship_symbol;not null;uniqueIndex:idx_ship_assignments_ship_player"`
	PlayerID      int        `gorm:"column:player_id;not null;uniqueIndex:idx_ship_assignments_ship_player"`
	ContainerID   string     `gorm:"column:container_id;not null;index:idx_ship_assignments_container"`
	Operation     string     `gorm:"column:operation;not null"`
	Status        string     `gorm:"column:status;not null;default:'active'"`
	AssignedAt    time.Time  `gorm:"column:assigned_at;not null"`
	ReleasedAt    *time.Time `gorm:"column:released_at"`
	ReleaseReason string     `gorm:"column:release_reason"`
}

func (ShipAssignmentModel) TableName() string { return "ship_assignments" }
