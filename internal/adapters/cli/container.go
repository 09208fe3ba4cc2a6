package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// ContainerSummary mirrors list_containers' per-row result shape.
type ContainerSummary struct {
	ContainerID  string     `json:"container_id"`
	PlayerID     int        `json:"player_id"`
	CommandType  string     `json:"command_type"`
	Status       string     `json:"status"`
	StartedAt    *time.Time `json:"started_at"`
	RestartCount int        `json:"restart_count"`
}

// ContainerDetail mirrors inspect_container's result shape.
type ContainerDetail struct {
	ContainerID      string                 `json:"container_id"`
	PlayerID         int                    `json:"player_id"`
	CommandType      string                 `json:"command_type"`
	Status           string                 `json:"status"`
	Config           map[string]interface{} `json:"config"`
	StartedAt        *time.Time             `json:"started_at"`
	StoppedAt        *time.Time             `json:"stopped_at"`
	ExitCode         *int                   `json:"exit_code"`
	ExitReason       string                 `json:"exit_reason"`
	RestartCount     int                    `json:"restart_count"`
	CurrentIteration int                    `json:"current_iteration"`
	MaxIterations    int                    `json:"max_iterations"`
	Metadata         map[string]interface{} `json:"metadata"`
	Logs             []LogEntry             `json:"logs"`
}

// LogEntry mirrors a single container_logs row as get_logs/inspect_container
// return it.
type LogEntry struct {
	Seq     int64     `json:"seq"`
	Ts      time.Time `json:"ts"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// NewContainerCommand builds the "container" command group.
func NewContainerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "container",
		Short: "Inspect and control daemon containers",
	}

	cmd.AddCommand(newContainerListCommand())
	cmd.AddCommand(newContainerGetCommand())
	cmd.AddCommand(newContainerLogsCommand())
	cmd.AddCommand(newContainerStopCommand())
	cmd.AddCommand(newContainerRemoveCommand())
	cmd.AddCommand(newContainerCreateCommand())
	cmd.AddCommand(newContainerRestartCommand())

	return cmd
}

func requestTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func newContainerListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := NewDaemonClient(socketPath)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := requestTimeout()
			defer cancel()

			params := map[string]interface{}{}
			if playerID > 0 {
				params["player_id"] = playerID
			}

			var rows []ContainerSummary
			if err := client.call(ctx, "list_containers", params, &rows); err != nil {
				return err
			}

			if len(rows) == 0 {
				fmt.Println("no containers")
				return nil
			}

			fmt.Printf("%-36s %-22s %-10s %-8s %s\n", "CONTAINER ID", "TYPE", "STATUS", "RESTARTS", "STARTED")
			for _, r := range rows {
				started := "-"
				if r.StartedAt != nil {
					started = r.StartedAt.Format(time.RFC3339)
				}
				fmt.Printf("%-36s %-22s %-10s %-8d %s\n", r.ContainerID, r.CommandType, r.Status, r.RestartCount, started)
			}
			return nil
		},
	}
}

func newContainerGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <container-id>",
		Short: "Show detailed container state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := NewDaemonClient(socketPath)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := requestTimeout()
			defer cancel()

			var detail ContainerDetail
			params := map[string]interface{}{"container_id": args[0], "player_id": playerID}
			if err := client.call(ctx, "inspect_container", params, &detail); err != nil {
				return err
			}

			fmt.Printf("container:          %s\n", detail.ContainerID)
			fmt.Printf("player_id:          %d\n", detail.PlayerID)
			fmt.Printf("command_type:       %s\n", detail.CommandType)
			fmt.Printf("status:             %s\n", detail.Status)
			fmt.Printf("current_iteration:  %d/%d\n", detail.CurrentIteration, detail.MaxIterations)
			fmt.Printf("restart_count:      %d\n", detail.RestartCount)
			if detail.ExitCode != nil {
				fmt.Printf("exit_code:          %d (%s)\n", *detail.ExitCode, detail.ExitReason)
			}
			if len(detail.Config) > 0 {
				encoded, _ := json.MarshalIndent(detail.Config, "", "  ")
				fmt.Printf("config:\n%s\n", encoded)
			}
			if len(detail.Logs) > 0 {
				fmt.Println("recent logs:")
				for _, entry := range detail.Logs {
					fmt.Printf("  [%s] [%s] %s\n", entry.Ts.Format("2006-01-02 15:04:05"), entry.Level, entry.Message)
				}
			}
			return nil
		},
	}
}

func newContainerLogsCommand() *cobra.Command {
	var (
		limit int
		level string
	)

	cmd := &cobra.Command{
		Use:   "logs <container-id>",
		Short: "Tail a container's logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := NewDaemonClient(socketPath)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := requestTimeout()
			defer cancel()

			params := map[string]interface{}{
				"container_id": args[0],
				"player_id":    playerID,
				"limit":        limit,
			}
			if level != "" {
				params["level"] = level
			}

			var logs []LogEntry
			if err := client.call(ctx, "get_logs", params, &logs); err != nil {
				return err
			}
			if len(logs) == 0 {
				fmt.Println("no log entries")
				return nil
			}
			for _, entry := range logs {
				fmt.Printf("[%s] [%s] %s\n", entry.Ts.Format("2006-01-02 15:04:05"), entry.Level, entry.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of log entries")
	cmd.Flags().StringVar(&level, "level", "", "minimum log level (DEBUG, INFO, WARNING, ERROR)")
	return cmd
}

func newContainerStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <container-id>",
		Short: "Request a container stop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := NewDaemonClient(socketPath)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := requestTimeout()
			defer cancel()

			params := map[string]interface{}{"container_id": args[0], "player_id": playerID}
			if err := client.call(ctx, "stop_container", params, nil); err != nil {
				return err
			}
			fmt.Printf("stopped %s\n", args[0])
			return nil
		},
	}
}

func newContainerRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <container-id>",
		Short: "Remove a terminal container (its logs are kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := NewDaemonClient(socketPath)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := requestTimeout()
			defer cancel()

			params := map[string]interface{}{"container_id": args[0], "player_id": playerID}
			if err := client.call(ctx, "remove_container", params, nil); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", args[0])
			return nil
		},
	}
}

func newContainerRestartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <container-id>",
		Short: "Restart a failed container under a new id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := NewDaemonClient(socketPath)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := requestTimeout()
			defer cancel()

			var result struct {
				ContainerID string `json:"container_id"`
			}
			params := map[string]interface{}{"container_id": args[0], "player_id": playerID}
			if err := client.call(ctx, "restart_container", params, &result); err != nil {
				return err
			}
			fmt.Printf("restarted as %s\n", result.ContainerID)
			return nil
		},
	}
}

func newContainerCreateCommand() *cobra.Command {
	var (
		containerID   string
		containerType string
		configJSON    string
		maxIterations int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Launch a new container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if playerID <= 0 {
				return fmt.Errorf("--player-id is required")
			}
			if containerType == "" {
				return fmt.Errorf("--type is required")
			}

			var config map[string]interface{}
			if configJSON != "" {
				if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
					return fmt.Errorf("--config is not valid JSON: %w", err)
				}
			}

			client, err := NewDaemonClient(socketPath)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := requestTimeout()
			defer cancel()

			var result struct {
				ContainerID string `json:"container_id"`
				Status      string `json:"status"`
			}
			params := map[string]interface{}{
				"container_id":   containerID,
				"player_id":      playerID,
				"container_type": containerType,
				"config":         config,
				"max_iterations": maxIterations,
			}
			if err := client.call(ctx, "container.create", params, &result); err != nil {
				return err
			}
			fmt.Printf("created %s (%s)\n", result.ContainerID, result.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&containerID, "id", "", "container id (generated if omitted)")
	cmd.Flags().StringVar(&containerType, "type", "", "command type, e.g. NavigateShip")
	cmd.Flags().StringVar(&configJSON, "config", "", "command config as a JSON object")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", -1, "iteration budget, -1 for unbounded")
	return cmd
}
