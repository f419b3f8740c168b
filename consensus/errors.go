package consensus

import "errors"

// Consensus errors
var (
	ErrInvalidNodeID      = errors.New("invalid node id")
	ErrInvalidRunState    = errors.New("invalid run state")
	ErrInvalidRunParams   = errors.New("invalid run parameters")
	ErrUnknownMessageType = errors.New("unknown message type")
)
