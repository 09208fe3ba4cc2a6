package daemon

import (
	"context"
	"time"
)

// ShipStatusProvider is implemented by an adapter over the remote game
// client and queried by the health monitor's stuck-ship sweep. The ship
// domain itself is an out-of-scope external collaborator; this is the
// narrow interface the core uses to reach it.
type ShipStatusProvider interface {
	// InTransitSince reports, for a ship symbol, whether it is currently in
	// transit and the reference time the health monitor measures the
	// recovery timeout from. The gameapi implementation returns the route's
	// scheduled arrival time, so a ship counts as stuck only once it is still
	// in transit recovery_timeout after its scheduled arrival; time elapsed
	// since departure is not measured. ok is false if the ship's status is unknown
	// (e.g. the remote client could not be reached); the caller should
	// treat unknown as not-stuck rather than guess.
	InTransitSince(ctx context.Context, shipSymbol string) (since time.Time, inTransit bool, ok bool)
}
