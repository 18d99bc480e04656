package gate

import (
	"math/rand"
	"testing"
)

// testKey returns a random key in a range unlikely to collide with real users
func testKey(t *testing.T) int32 {
	t.Helper()
	return 0x7e000000 | rand.Int31n(0xffffff)
}
