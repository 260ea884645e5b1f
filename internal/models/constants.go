package models

const (
	ModeSimulated   = "simulated"
	ModeLive        = "live"
	ModeCompetition = "competition"

	SessionRunning = "running"
	SessionStopped = "stopped"

	SideLong  = "long"
	SideShort = "short"

	ActionOpen     = "open"
	ActionIncrease = "increase"
	ActionReduce   = "reduce"
	ActionClose    = "close"
	ActionFlip     = "flip"
)

// IsSimulatedMode reports whether orders for mode settle on the local ledger only.
func IsSimulatedMode(mode string) bool {
	return mode == ModeSimulated || mode == ModeCompetition
}

// OppositeSide returns the side that reduces a position held on side.
func OppositeSide(side string) string {
	if side == SideLong {
		return SideShort
	}
	return SideLong
}
