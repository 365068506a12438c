package coordinator

import (
	"errors"

	"github.com/user/bluexfer/transfer"
)

var (
	// ErrAlreadyInProgress is returned by SendMessage while the previous
	// message to the same endpoint has not been fully flushed.
	ErrAlreadyInProgress = transfer.ErrAlreadyInProgress

	ErrNotReady          = errors.New("coordinator: endpoint not ready")
	ErrUnknownEndpoint   = errors.New("coordinator: unknown endpoint")
	ErrRoleDisabled      = errors.New("coordinator: sender role not enabled")
	ErrMessageTooLarge   = errors.New("coordinator: message exceeds max_message_bytes")
	ErrCapReached        = errors.New("coordinator: connection cap reached")
	ErrAlreadyConnected  = errors.New("coordinator: endpoint already tracked")
	ErrClosed            = errors.New("coordinator: node closed")
	ErrDisconnectRequest = errors.New("coordinator: disconnect requested")
)
