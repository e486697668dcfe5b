package contracts

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout matches every TimeoutError via errors.Is
var ErrTimeout = errors.New("rpc timeout")

// TimeoutError is returned when an RPC wait budget is exhausted.
// The channel involved is already closed when it is returned.
type TimeoutError struct {
	TTL         time.Duration
	Outstanding int // unresolved calls, batched waits only
	Batched     bool
}

func (e *TimeoutError) Error() string {
	if e.Batched {
		return fmt.Sprintf("rpc timeout: parallel calls exceeded %s, %d outstanding", e.TTL, e.Outstanding)
	}
	return fmt.Sprintf("rpc timeout: call exceeded %s", e.TTL)
}

// Is reports ErrTimeout as a match
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
