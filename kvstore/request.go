package kvstore

import "github.com/google/uuid"

type RequestType int

const (
	Set RequestType = iota
	Get
	Del
)

// Request is the command format replicated through the consensus log.
// TransactionId makes retries idempotent: the FSM remembers the result of
// every transaction it has applied and replays it for duplicates.
type Request struct {
	Type          RequestType
	Key           string
	Val           string
	TransactionId uuid.UUID
}
