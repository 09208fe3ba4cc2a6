// Package executors adapts the daemon's command_types to the container
// Executor contract. The route planner, scouting algorithm and contract
// strategy are out of scope (external collaborators); these executors
// drive the game API directly and in the order the params describe, which
// is all C2 requires of an opaque executor body.
package executors

import (
	"context"
	"fmt"
	"time"

	"github.com/andrescamacho/spacetraders-go/internal/adapters/gameapi"
	"github.com/andrescamacho/spacetraders-go/internal/domain/container"
	"github.com/andrescamacho/spacetraders-go/internal/domain/shared"
)

// Register binds one Executor per command_type to registry, all backed by
// client.
func Register(registry *container.ExecutorRegistry, client *gameapi.Client, clock shared.Clock) {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	registry.Register(container.CommandNavigateShip, navigateShip(client, clock))
	registry.Register(container.CommandDockShip, dockShip(client))
	registry.Register(container.CommandOrbitShip, orbitShip(client))
	registry.Register(container.CommandRefuelShip, refuelShip(client))
	registry.Register(container.CommandPurchaseShip, purchaseShip(client))
	registry.Register(container.CommandScoutMarketsVRP, scoutMarketsVRP(client, clock))
	registry.Register(container.CommandScoutTour, scoutTour(client, clock))
	registry.Register(container.CommandBatchContractWorkflow, batchContractWorkflow(client, clock))
	registry.Register(container.CommandBatchPurchaseShips, batchPurchaseShips(client))
}

func stringParam(params map[string]interface{}, key string) (string, bool) {
	s, ok := params[key].(string)
	return s, ok && s != ""
}

func stringSliceParam(params map[string]interface{}, key string) []string {
	raw, ok := params[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// navigateShip moves one ship to a destination and waits for arrival,
// polling the game API with a clock-aware sleep so a cancellation preempts
// the wait promptly instead of riding it out.
func navigateShip(client *gameapi.Client, clock shared.Clock) container.Executor {
	return container.ExecutorFunc(func(ctx context.Context, handle container.ContainerHandle, params map[string]interface{}) (int, string, error) {
		shipSymbol, ok := stringParam(params, "ship_symbol")
		if !ok {
			return 1, "missing ship_symbol", fmt.Errorf("navigation: missing ship_symbol")
		}
		destination, ok := stringParam(params, "destination")
		if !ok {
			return 1, "missing destination", fmt.Errorf("navigation: missing destination")
		}

		handle.Log("INFO", fmt.Sprintf("navigation: %s navigating to %s", shipSymbol, destination))
		arrival, err := client.NavigateShip(ctx, shipSymbol, destination)
		if err != nil {
			return 1, err.Error(), fmt.Errorf("navigation/route/path: %w", err)
		}

		for {
			if handle.CheckCancellation() {
				return 1, "cancelled while in transit", nil
			}
			remaining := arrival.Sub(clock.Now())
			if remaining <= 0 {
				break
			}
			wait := remaining
			if wait > 2*time.Second {
				wait = 2 * time.Second
			}
			if err := shared.SleepContext(ctx, clock, wait); err != nil {
				return 1, "cancelled while in transit", nil
			}
		}

		handle.Log("INFO", fmt.Sprintf("navigation: %s arrived at %s", shipSymbol, destination))
		handle.UpdateMetadata("current_waypoint", destination)
		return 0, "arrived", nil
	})
}

func dockShip(client *gameapi.Client) container.Executor {
	return container.ExecutorFunc(func(ctx context.Context, handle container.ContainerHandle, params map[string]interface{}) (int, string, error) {
		shipSymbol, ok := stringParam(params, "ship_symbol")
		if !ok {
			return 1, "missing ship_symbol", fmt.Errorf("dock: missing ship_symbol")
		}
		if err := client.DockShip(ctx, shipSymbol); err != nil {
			return 1, err.Error(), fmt.Errorf("dock: %w", err)
		}
		handle.Log("INFO", fmt.Sprintf("dock: %s docked", shipSymbol))
		return 0, "docked", nil
	})
}

func orbitShip(client *gameapi.Client) container.Executor {
	return container.ExecutorFunc(func(ctx context.Context, handle container.ContainerHandle, params map[string]interface{}) (int, string, error) {
		shipSymbol, ok := stringParam(params, "ship_symbol")
		if !ok {
			return 1, "missing ship_symbol", fmt.Errorf("orbit: missing ship_symbol")
		}
		if err := client.OrbitShip(ctx, shipSymbol); err != nil {
			return 1, err.Error(), fmt.Errorf("orbit: %w", err)
		}
		handle.Log("INFO", fmt.Sprintf("orbit: %s in orbit", shipSymbol))
		return 0, "in_orbit", nil
	})
}

func refuelShip(client *gameapi.Client) container.Executor {
	return container.ExecutorFunc(func(ctx context.Context, handle container.ContainerHandle, params map[string]interface{}) (int, string, error) {
		shipSymbol, ok := stringParam(params, "ship_symbol")
		if !ok {
			return 1, "missing ship_symbol", fmt.Errorf("refuel: missing ship_symbol")
		}
		var units *int
		if v, ok := params["units"].(float64); ok {
			n := int(v)
			units = &n
		}
		if err := client.RefuelShip(ctx, shipSymbol, units); err != nil {
			return 1, err.Error(), fmt.Errorf("refuel: %w", err)
		}
		handle.Log("INFO", fmt.Sprintf("refuel: %s refuelled", shipSymbol))
		return 0, "refuelled", nil
	})
}

func purchaseShip(client *gameapi.Client) container.Executor {
	return container.ExecutorFunc(func(ctx context.Context, handle container.ContainerHandle, params map[string]interface{}) (int, string, error) {
		shipType, ok := stringParam(params, "ship_type")
		if !ok {
			return 1, "missing ship_type", fmt.Errorf("purchase: missing ship_type")
		}
		waypoint, ok := stringParam(params, "waypoint_symbol")
		if !ok {
			return 1, "missing waypoint_symbol", fmt.Errorf("purchase: missing waypoint_symbol")
		}
		symbol, err := client.PurchaseShip(ctx, shipType, waypoint)
		if err != nil {
			return 1, err.Error(), fmt.Errorf("purchase: %w", err)
		}
		handle.Log("INFO", fmt.Sprintf("purchase: bought %s (%s) at %s", symbol, shipType, waypoint))
		handle.UpdateMetadata("purchased_ship", symbol)
		return 0, symbol, nil
	})
}

// batchPurchaseShips purchases one ship per entry in "orders", stopping at
// the first failure but reporting what was bought so far.
func batchPurchaseShips(client *gameapi.Client) container.Executor {
	return container.ExecutorFunc(func(ctx context.Context, handle container.ContainerHandle, params map[string]interface{}) (int, string, error) {
		orders, _ := params["orders"].([]interface{})
		bought := make([]string, 0, len(orders))
		for _, raw := range orders {
			order, _ := raw.(map[string]interface{})
			if handle.CheckCancellation() {
				return 1, fmt.Sprintf("cancelled after %d purchases", len(bought)), nil
			}
			shipType, _ := stringParam(order, "ship_type")
			waypoint, _ := stringParam(order, "waypoint_symbol")
			if shipType == "" || waypoint == "" {
				continue
			}
			symbol, err := client.PurchaseShip(ctx, shipType, waypoint)
			if err != nil {
				return 1, fmt.Sprintf("purchased %d before failing: %v", len(bought), err), fmt.Errorf("purchase: %w", err)
			}
			bought = append(bought, symbol)
			handle.IncrementIteration()
			handle.Log("INFO", fmt.Sprintf("purchase: bought %s (%s) at %s", symbol, shipType, waypoint))
		}
		handle.UpdateMetadata("purchased_ships", bought)
		return 0, fmt.Sprintf("purchased %d ships", len(bought)), nil
	})
}

// scoutMarketsVRP visits every waypoint in "waypoints" in the order given,
// docking to refresh market data at each stop. The order itself is the
// route planner's concern (out of scope here); this executor only drives
// the visits and reports progress.
func scoutMarketsVRP(client *gameapi.Client, clock shared.Clock) container.Executor {
	return container.ExecutorFunc(func(ctx context.Context, handle container.ContainerHandle, params map[string]interface{}) (int, string, error) {
		shipSymbol, ok := stringParam(params, "ship_symbol")
		if !ok {
			return 1, "missing ship_symbol", fmt.Errorf("scout: missing ship_symbol")
		}
		waypoints := stringSliceParam(params, "waypoints")
		if len(waypoints) == 0 {
			return 1, "missing waypoints", fmt.Errorf("scout: missing waypoints")
		}

		visited := 0
		for _, wp := range waypoints {
			if handle.CheckCancellation() {
				return 1, fmt.Sprintf("cancelled after %d/%d stops", visited, len(waypoints)), nil
			}
			if err := navigateAndVisit(ctx, client, clock, shipSymbol, wp, handle); err != nil {
				return 1, err.Error(), fmt.Errorf("scout: %w", err)
			}
			visited++
			handle.IncrementIteration()
			handle.Log("INFO", fmt.Sprintf("scout: visited %s (%d/%d)", wp, visited, len(waypoints)))
		}
		return 0, fmt.Sprintf("visited %d markets", visited), nil
	})
}

// scoutTour is the multi-iteration variant of market scouting: it repeats
// the same waypoint circuit up to MaxIterations times (the container's
// iteration budget, not a param here), honouring cancellation between
// circuits.
func scoutTour(client *gameapi.Client, clock shared.Clock) container.Executor {
	return container.ExecutorFunc(func(ctx context.Context, handle container.ContainerHandle, params map[string]interface{}) (int, string, error) {
		shipSymbol, ok := stringParam(params, "ship_symbol")
		if !ok {
			return 1, "missing ship_symbol", fmt.Errorf("scout: missing ship_symbol")
		}
		waypoints := stringSliceParam(params, "waypoints")
		if len(waypoints) == 0 {
			return 1, "missing waypoints", fmt.Errorf("scout: missing waypoints")
		}

		for !handle.CheckCancellation() && handle.ShouldContinue() {
			for _, wp := range waypoints {
				if handle.CheckCancellation() {
					return 0, "stopped between stops", nil
				}
				if err := navigateAndVisit(ctx, client, clock, shipSymbol, wp, handle); err != nil {
					return 1, err.Error(), fmt.Errorf("scout: %w", err)
				}
			}
			handle.IncrementIteration()
			handle.Log("INFO", fmt.Sprintf("scout-tour: %s completed one circuit of %d stops", shipSymbol, len(waypoints)))
		}
		return 0, "stopped", nil
	})
}

// navigateAndVisit moves shipSymbol to wp (if not already there), waits for
// arrival, and docks to refresh that waypoint's market data.
func navigateAndVisit(ctx context.Context, client *gameapi.Client, clock shared.Clock, shipSymbol, wp string, handle container.ContainerHandle) error {
	nav, err := client.GetShipNav(ctx, shipSymbol)
	if err != nil {
		return fmt.Errorf("navigation/route/path: %w", err)
	}
	if nav.WaypointSymbol != wp {
		arrival, err := client.NavigateShip(ctx, shipSymbol, wp)
		if err != nil {
			return fmt.Errorf("navigation/route/path: %w", err)
		}
		for {
			if handle.CheckCancellation() {
				return nil
			}
			remaining := arrival.Sub(clock.Now())
			if remaining <= 0 {
				break
			}
			wait := remaining
			if wait > 2*time.Second {
				wait = 2 * time.Second
			}
			if err := shared.SleepContext(ctx, clock, wait); err != nil {
				return nil
			}
		}
	}
	if err := client.DockShip(ctx, shipSymbol); err != nil {
		return fmt.Errorf("dock: %w", err)
	}
	return nil
}

// batchContractWorkflow negotiates, accepts and delivers a list of
// contract-driven hauls; the contract strategy itself is out of scope, so
// this executor only sequences the per-contract deliveries the params
// already describe, refuelling the hauler as needed.
func batchContractWorkflow(client *gameapi.Client, clock shared.Clock) container.Executor {
	return container.ExecutorFunc(func(ctx context.Context, handle container.ContainerHandle, params map[string]interface{}) (int, string, error) {
		shipSymbol, ok := stringParam(params, "ship_symbol")
		if !ok {
			return 1, "missing ship_symbol", fmt.Errorf("Contract: missing ship_symbol")
		}
		deliveries := stringSliceParam(params, "delivery_waypoints")
		if len(deliveries) == 0 {
			return 1, "missing delivery_waypoints", fmt.Errorf("Contract: missing delivery_waypoints")
		}

		completed := 0
		for _, wp := range deliveries {
			if handle.CheckCancellation() {
				return 1, fmt.Sprintf("cancelled after %d/%d deliveries", completed, len(deliveries)), nil
			}
			if err := navigateAndVisit(ctx, client, clock, shipSymbol, wp, handle); err != nil {
				return 1, err.Error(), fmt.Errorf("Contract: %w", err)
			}
			completed++
			handle.IncrementIteration()
			handle.Log("INFO", fmt.Sprintf("Contract: delivered leg %d/%d at %s", completed, len(deliveries), wp))
		}
		return 0, fmt.Sprintf("completed %d deliveries", completed), nil
	})
}
