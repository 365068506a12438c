package wire

import "errors"

var (
	ErrStopped                = errors.New("wire: radio is off")
	ErrNoEvents               = errors.New("wire: no event sink set")
	ErrSelfConnect            = errors.New("wire: cannot connect to self")
	ErrNotConnected           = errors.New("wire: not connected")
	ErrAlreadyConnected       = errors.New("wire: already connected or connecting")
	ErrConnectionFailed       = errors.New("wire: connection failed")
	ErrLinkLost               = errors.New("wire: link lost")
	ErrUnsubscribed           = errors.New("wire: central unsubscribed")
	ErrWrongRole              = errors.New("wire: operation needs the central side of the connection")
	ErrServiceNotFound        = errors.New("wire: transfer service not found")
	ErrCharacteristicNotFound = errors.New("wire: transfer characteristic not found")
	ErrInvalidHandshake       = errors.New("wire: invalid handshake")
)
