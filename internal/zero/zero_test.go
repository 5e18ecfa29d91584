package zero_test

import (
	"testing"

	"github.com/btcsuite/descwallet/internal/zero"
	"github.com/stretchr/testify/require"
)

func makeOneBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 1
	}
	return b
}

// TestBytes checks slices of sizes around the copy block size are cleared.
func TestBytes(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 31, 32, 33, 127, 128, 129, 255, 256, 257,
		383, 384, 385, 511, 512, 513} {

		b := makeOneBytes(n)
		zero.Bytes(b)
		require.Equal(t, make([]byte, n), b, "n=%d", n)
	}
}
