//go:build !race

package wire

import "testing"

func skipRace(testing.TB) {}
