package repository

// Policy selects which tiers of the Device Repository are active
// (spec §4.5).
type Policy int

const (
	// PolicyNone keeps neither an in-memory index nor a durable store;
	// every operation is a no-op / reports nothing known.
	PolicyNone Policy = iota
	// PolicyCached keeps only the in-memory index.
	PolicyCached
	// PolicyPersistent keeps only the durable store; every operation
	// round-trips to it synchronously.
	PolicyPersistent
	// PolicyFull keeps both: the in-memory index is authoritative for
	// reads, and durable writes are submitted to a private command
	// queue so they never block the caller.
	PolicyFull
)

func (p Policy) String() string {
	switch p {
	case PolicyNone:
		return "NONE"
	case PolicyCached:
		return "CACHED"
	case PolicyPersistent:
		return "PERSISTENT"
	case PolicyFull:
		return "FULL"
	default:
		return "UNKNOWN"
	}
}
