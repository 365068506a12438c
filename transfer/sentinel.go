package transfer

import "bytes"

// DefaultSentinel is the end-of-message token used by the CoreBluetooth
// transfer sample. Both ends of a link must agree on it.
var DefaultSentinel = Sentinel("/EOM")

// Sentinel is the reserved control frame that closes a message.
//
// Framing is positional: the sentinel is only recognized when a whole received
// chunk equals it. A payload that merely contains the token is delivered
// verbatim: the Sender never cuts a data chunk that equals the token, so only
// the closing frame matches.
type Sentinel []byte

// Matches reports whether chunk is exactly the sentinel frame.
func (s Sentinel) Matches(chunk []byte) bool {
	return len(s) > 0 && bytes.Equal(chunk, s)
}

func (s Sentinel) String() string {
	return string(s)
}
