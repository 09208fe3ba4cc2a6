package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// HealthResponse mirrors health_check's result shape.
type HealthResponse struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	ActiveContainers int    `json:"active_containers"`
}

// NewHealthCommand builds the "health" command.
func NewHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check daemon liveness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := NewDaemonClient(socketPath)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := requestTimeout()
			defer cancel()

			var resp HealthResponse
			if err := client.call(ctx, "health_check", nil, &resp); err != nil {
				return err
			}
			fmt.Printf("status:            %s\n", resp.Status)
			fmt.Printf("version:           %s\n", resp.Version)
			fmt.Printf("active_containers: %d\n", resp.ActiveContainers)
			return nil
		},
	}
}
