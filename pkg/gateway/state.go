package gateway

// State is the lifecycle position of a Gateway.
type State int

const (
	// Uninitialized: no handle yet.
	Uninitialized State = iota
	// Bound: handle acquired, connection id unknown.
	Bound
	// Verified: connection id known and the remote database matched the
	// local one at the last check.
	Verified
	// Reconciling: a mismatch was found and a SELECT is in flight.
	Reconciling
	// Failed: the last check could not confirm or restore the database.
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Bound:
		return "bound"
	case Verified:
		return "verified"
	case Reconciling:
		return "reconciling"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
