package lifecycle

import "errors"

var (
	// ErrTransportUnavailable means the radio is powered off or unsupported.
	// Discovery waits for the next power-on signal before retrying.
	ErrTransportUnavailable = errors.New("lifecycle: transport unavailable")

	ErrConnectFailed                 = errors.New("lifecycle: connect failed")
	ErrServiceDiscoveryFailed        = errors.New("lifecycle: service discovery failed")
	ErrCharacteristicDiscoveryFailed = errors.New("lifecycle: characteristic discovery failed")
	ErrLinkInvalidated               = errors.New("lifecycle: link invalidated")
)

// Recoverable reports whether err lets discovery re-arm immediately.
func Recoverable(err error) bool {
	return !errors.Is(err, ErrTransportUnavailable)
}
