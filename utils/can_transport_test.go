package utils

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.einride.tech/can"
)

func TestMemoryCANWriter(t *testing.T) {
	t.Parallel()

	var w MemoryCANWriter
	var _ CANWriter = &w

	ctx := context.Background()
	require.NoError(t, w.WriteFrame(ctx, can.Frame{ID: 1, Length: 1, Data: can.Data{0xAA}}))
	require.NoError(t, w.WriteFrame(ctx, can.Frame{ID: 2}))

	frames := w.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, uint32(1), frames[0].ID)
	frames[0].ID = 99
	assert.Equal(t, uint32(1), w.Frames()[0].ID, "Frames returns a copy")

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, w.WriteFrame(canceled, can.Frame{ID: 3}), context.Canceled)

	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.WriteFrame(ctx, can.Frame{ID: 4}), net.ErrClosed)
	assert.Len(t, w.Frames(), 2)
}
