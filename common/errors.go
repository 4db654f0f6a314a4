package common

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrQuorumUnavailable indicates that fewer than the required number of
// replicas acknowledged an operation before its deadline. It is retryable:
// the caller may retry, widen the deadline, or degrade to a weaker read.
var ErrQuorumUnavailable = errors.New("quorum unavailable")

// ErrNotFound indicates that the requested key holds no live value.
var ErrNotFound = errors.New("key not found")

// NotLeaderError is returned for proposals sent to a non-leader. It is a
// redirect signal, not a fatal condition: LeaderHint, when non-nil, names
// the node the caller should retry against.
type NotLeaderError struct {
	LeaderHint *uuid.UUID
}

func (e *NotLeaderError) Error() string {
	if e.LeaderHint != nil {
		return fmt.Sprintf("not leader (current leader is %v)", *e.LeaderHint)
	}
	return "not leader"
}

// Is makes errors.Is(err, ErrNotLeader) match any NotLeaderError regardless
// of its hint.
func (e *NotLeaderError) Is(target error) bool {
	var other *NotLeaderError
	return errors.As(target, &other)
}

// ErrNotLeader is the sentinel for errors.Is checks.
var ErrNotLeader error = &NotLeaderError{}
