package capability

import (
	"math"
	"math/rand/v2"
)

// Default bounds for the random number capability.
const (
	DefaultMin = 1
	DefaultMax = 100
)

const (
	msgMinAboveMax = "min must be less than or equal to max"
	msgNotInteger  = "min and max must be integers"
)

// ValidationError is a domain failure of a capability: the caller supplied
// arguments the capability refuses. It is reported to MCP clients as an
// isError result, never as a protocol error.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ErrNotInteger is returned by callers that parse bounds from text.
var ErrNotInteger = &ValidationError{Message: msgNotInteger}

// RandomInt returns a uniformly distributed integer n with lo <= n <= hi.
func RandomInt(lo, hi int) (int, error) {
	if lo > hi {
		return 0, &ValidationError{Message: msgMinAboveMax}
	}
	// Width computed in uint64 so that ranges spanning the whole int64
	// domain do not overflow.
	span := uint64(hi) - uint64(lo)
	if span == math.MaxUint64 {
		return int(rand.Uint64()), nil
	}
	return lo + int(rand.Uint64N(span+1)), nil
}
