package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andrescamacho/spacetraders-go/internal/application/containers"
	"github.com/andrescamacho/spacetraders-go/internal/domain/container"
	"github.com/andrescamacho/spacetraders-go/internal/domain/shared"
)

// Version is the daemon's reported version for health_check.
const Version = "0.1.0"

// handlerFunc is a single RPC method handler. ctx is already bounded by the
// server's request timeout.
type handlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Server is C1: the JSON-RPC transport. One connection carries exactly one
// request and returns exactly one response; the framing is implicit JSON
// completeness, no half-close.
type Server struct {
	socketPath     string
	requestTimeout time.Duration
	manager        *containers.Manager

	handlers map[string]handlerFunc

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer builds the RPC transport bound to manager. requestTimeout bounds
// every handler invocation; exceeding it yields -32001.
func NewServer(socketPath string, requestTimeout time.Duration, manager *containers.Manager) *Server {
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	s := &Server{
		socketPath:     socketPath,
		requestTimeout: requestTimeout,
		manager:        manager,
	}
	s.handlers = map[string]handlerFunc{
		"list_containers":    s.handleListContainers,
		"inspect_container":  s.handleInspectContainer,
		"get_logs":           s.handleGetLogs,
		"stop_container":     s.handleStopContainer,
		"remove_container":   s.handleRemoveContainer,
		"container.create":   s.handleCreateContainer,
		"restart_container":  s.handleRestartContainer,
		"health_check":       s.handleHealthCheck,
	}
	return s
}

// Start binds the Unix socket, unlinking any stale file first, sets it to
// mode 0600, and begins accepting connections in the background. It returns
// once the listener is bound; the accept loop runs in a goroutine.
func (s *Server) Start(ctx context.Context) error {
	if _, err := os.Lstat(s.socketPath); err == nil {
		if rmErr := os.Remove(s.socketPath); rmErr != nil {
			return fmt.Errorf("remove stale socket %s: %w", s.socketPath, rmErr)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("chmod socket %s: %w", s.socketPath, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go s.acceptLoop(ctx)
	return nil
}

// Stop stops accepting new connections, waits for in-flight handlers to
// return, and unlinks the socket.
func (s *Server) Stop() {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()

	if listener != nil {
		_ = listener.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		listener := s.listener
		s.mu.Unlock()
		if listener == nil {
			return
		}

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("rpc: accept error: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection reads exactly one request, dispatches it, writes exactly
// one response, and closes. No half-close dance: both sides rely on the
// encoded object being complete.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()
	decoder := json.NewDecoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		s.writeResponse(conn, errorResponse(nil, CodeParseError, fmt.Sprintf("malformed request: %v", err)))
		return
	}

	resp := s.dispatch(ctx, connID, &req)
	s.writeResponse(conn, resp)
}

func (s *Server) writeResponse(conn net.Conn, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Printf("rpc: encode response: %v", err)
		return
	}
	if _, err := conn.Write(data); err != nil {
		log.Printf("rpc: write response: %v", err)
	}
}

func (s *Server) dispatch(ctx context.Context, connID string, req *Request) *Response {
	handler, ok := s.handlers[req.Method]
	if !ok {
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}

	handlerCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := handler(handlerCtx, req.Params)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return s.errorFor(req.ID, o.err, connID)
		}
		return resultResponse(req.ID, o.result)
	case <-handlerCtx.Done():
		return errorResponse(req.ID, CodeHandlerTimeout, "handler timed out")
	}
}

// errorFor maps a domain error to its JSON-RPC error code. Validation and
// client errors carry their own meaning; everything else is a generic
// handler exception.
func (s *Server) errorFor(id interface{}, err error, connID string) *Response {
	var clientErr *shared.ClientError
	if errors.As(err, &clientErr) {
		return errorResponse(id, clientErr.Code, clientErr.Message)
	}
	var validationErr *shared.ValidationError
	if errors.As(err, &validationErr) {
		return errorResponse(id, CodeInvalidParams, validationErr.Error())
	}
	var lockErr *shared.LockError
	if errors.As(err, &lockErr) {
		return errorResponse(id, CodeHandlerError, lockErr.Message)
	}
	log.Printf("rpc[%s]: handler exception: %v", connID, err)
	return errorResponse(id, CodeHandlerError, err.Error())
}

// createParams mirrors container.create's documented params.
type createParams struct {
	ContainerID   string                 `json:"container_id"`
	PlayerID      int                    `json:"player_id" validate:"required"`
	ContainerType string                 `json:"container_type" validate:"required"`
	Config        map[string]interface{} `json:"config"`
	MaxIterations int                    `json:"max_iterations"`
}

func (s *Server) handleCreateContainer(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p createParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, err
	}
	if p.MaxIterations == 0 {
		p.MaxIterations = -1
	}
	id, status, err := s.manager.Create(ctx, containers.CreateRequest{
		ContainerID:   p.ContainerID,
		PlayerID:      p.PlayerID,
		CommandType:   container.CommandType(p.ContainerType),
		Params:        p.Config,
		MaxIterations: p.MaxIterations,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"container_id": id, "status": status}, nil
}

type containerIDParams struct {
	ContainerID string `json:"container_id" validate:"required"`
	PlayerID    int    `json:"player_id"`
}

func (s *Server) handleStopContainer(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p containerIDParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, err
	}
	if err := s.manager.Stop(ctx, p.ContainerID, p.PlayerID); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleRemoveContainer(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p containerIDParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, err
	}
	if err := s.manager.Remove(ctx, p.ContainerID, p.PlayerID); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleRestartContainer(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p containerIDParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, err
	}
	newID, err := s.manager.Restart(ctx, p.ContainerID, p.PlayerID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"container_id": newID}, nil
}

func (s *Server) handleInspectContainer(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p containerIDParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, err
	}
	c, err := s.manager.Get(ctx, p.ContainerID, p.PlayerID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, shared.NewClientError(CodeHandlerError, "container not found")
	}
	limit := 50
	logs, err := s.manager.LogTail(ctx, p.ContainerID, nil, limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"container_id":      c.ID(),
		"player_id":         c.PlayerID(),
		"command_type":      c.CommandType(),
		"status":             c.Status(),
		"config":             c.Config(),
		"started_at":         c.StartedAt(),
		"stopped_at":         c.StoppedAt(),
		"exit_code":          c.ExitCode(),
		"exit_reason":        c.ExitReason(),
		"restart_count":      c.RestartCount(),
		"current_iteration":  c.CurrentIteration(),
		"max_iterations":     c.MaxIterations(),
		"metadata":           c.Metadata(),
		"logs":               logs,
	}, nil
}

type listParams struct {
	PlayerID *int `json:"player_id"`
}

func (s *Server) handleListContainers(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p listParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, err
	}
	list, err := s.manager.List(ctx, p.PlayerID)
	if err != nil {
		return nil, err
	}
	summaries := make([]map[string]interface{}, len(list))
	for i, c := range list {
		summaries[i] = map[string]interface{}{
			"container_id": c.ID(),
			"player_id":    c.PlayerID(),
			"command_type": c.CommandType(),
			"status":       c.Status(),
			"started_at":   c.StartedAt(),
			"restart_count": c.RestartCount(),
		}
	}
	return summaries, nil
}

type getLogsParams struct {
	ContainerID string  `json:"container_id" validate:"required"`
	PlayerID    int     `json:"player_id" validate:"required"`
	Level       *string `json:"level"`
	Limit       int     `json:"limit"`
}

func (s *Server) handleGetLogs(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p getLogsParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, err
	}
	c, err := s.manager.Get(ctx, p.ContainerID, p.PlayerID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, shared.NewClientError(CodeHandlerError, "container not found")
	}
	logs, err := s.manager.LogTail(ctx, p.ContainerID, p.Level, p.Limit)
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Server) handleHealthCheck(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	return map[string]interface{}{
		"status":            "ok",
		"version":           Version,
		"active_containers": s.manager.ActiveCount(),
	}, nil
}
