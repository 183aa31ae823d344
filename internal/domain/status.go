package domain

// MessageStatus is the delivery state of a message. Transitions only move
// forward: sent -> delivered -> read.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Valid reports whether s is a known delivery state.
func (s MessageStatus) Valid() bool {
	return StatusRank(s) >= 0
}

// StatusRank returns the position of s in the delivery order, or -1 for an
// unknown state.
func StatusRank(s MessageStatus) int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

// CanAdvance reports whether a message in state cur may transition to next.
// Repeated and backward transitions are rejected, so callers treat a false
// result as an idempotent no-op rather than an error. A sent message may
// advance straight to read; delivered is not a required intermediate stop.
func CanAdvance(cur, next MessageStatus) bool {
	cr, nr := StatusRank(cur), StatusRank(next)
	return cr >= 0 && nr >= 0 && nr > cr
}
