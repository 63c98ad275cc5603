package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetBuffer(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{name: "small buffer within pool capacity", size: 1024},
		{name: "exact pool default size", size: 4096},
		{name: "larger than pool capacity", size: 8192},
		{name: "zero size", size: 0},
		{name: "very small size", size: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := GetBuffer(tt.size)
			require.NotNil(t, buf)
			require.Equal(t, tt.size, len(buf), "buffer length should match requested size")
			require.GreaterOrEqual(t, cap(buf), tt.size, "buffer capacity should be at least requested size")
			ReleaseBuffer(buf)
		})
	}
}

func TestBufferPoolReuse(t *testing.T) {
	buf := GetBuffer(128)
	copy(buf, []byte("scribble"))
	ReleaseBuffer(buf)

	again := GetBuffer(64)
	require.Len(t, again, 64)
	ReleaseBuffer(again)
}
