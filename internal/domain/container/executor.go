package container

import "context"

// ContainerHandle is the narrow surface an executor uses to report progress
// back to the owning container without reaching into its internals.
type ContainerHandle interface {
	// Log appends one structured log line, owned by C3.
	Log(level, message string)

	// UpdateMetadata merges a single key/value into the container's metadata.
	UpdateMetadata(key string, value interface{})

	// IncrementIteration advances the container's iteration counter.
	IncrementIteration()

	// CheckCancellation reports whether a stop has been signalled. Executors
	// must poll this at every suspension point and return promptly when true.
	CheckCancellation() bool

	// ShouldContinue reports whether the container's iteration budget
	// (max_iterations) allows another circuit. Loop-style executors must
	// check this alongside CheckCancellation at the top of each iteration.
	ShouldContinue() bool
}

// Executor runs one command_type's whole body in a single Execute call
// (looping over every iteration itself for loop-style commands) and reports
// an exit code plus a short human-readable summary. Executors must honour
// ctx cancellation and handle.CheckCancellation at any point they would
// otherwise block, per the ≤2s stop contract.
type Executor interface {
	Execute(ctx context.Context, handle ContainerHandle, params map[string]interface{}) (exitCode int, summary string, err error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, handle ContainerHandle, params map[string]interface{}) (int, string, error)

func (f ExecutorFunc) Execute(ctx context.Context, handle ContainerHandle, params map[string]interface{}) (int, string, error) {
	return f(ctx, handle, params)
}

// ExecutorRegistry resolves the Executor for a command_type, populated at
// daemon startup and consulted by C2 on every container create.
type ExecutorRegistry struct {
	executors map[CommandType]Executor
}

// NewExecutorRegistry creates an empty registry.
func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{executors: make(map[CommandType]Executor)}
}

// Register binds an executor to a command_type, overwriting any prior
// registration.
func (r *ExecutorRegistry) Register(commandType CommandType, executor Executor) {
	r.executors[commandType] = executor
}

// Resolve looks up the executor for a command_type.
func (r *ExecutorRegistry) Resolve(commandType CommandType) (Executor, bool) {
	e, ok := r.executors[commandType]
	return e, ok
}
