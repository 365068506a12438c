//go:build race

package main

import "testing"

// skipRace skips tests that move frames through the lfq SPSC transmit queue.
// The race detector tracks happens-before per variable and cannot see the
// queue's cross-variable ordering, so it reports false positives.
func skipRace(tb testing.TB) {
	tb.Helper()
	tb.Skip("skip: SPSC uses cross-variable memory ordering")
}
