package api

import "github.com/google/uuid"

// NewMessageID generates a unique identifier for a persisted message.
func NewMessageID() string {
	return "msg_" + uuid.NewString()
}

// NewCorrelationID generates an opaque identifier attached to generic
// error frames so server-side logs can be matched to a client report.
func NewCorrelationID() string {
	return uuid.NewString()
}
