package speaker

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegistry_StablePerScope(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	a, err := r.Resolve(ctx, "SPEAKER_00", "rec-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a, "spk_"))

	again, err := r.Resolve(ctx, " SPEAKER_00 ", "rec-1")
	require.NoError(t, err)
	assert.Equal(t, a, again)

	b, _ := r.Resolve(ctx, "SPEAKER_01", "rec-1")
	assert.NotEqual(t, a, b)

	other, _ := r.Resolve(ctx, "SPEAKER_00", "rec-2")
	assert.NotEqual(t, a, other)

	assert.Len(t, r.Speakers("rec-1"), 2)

	r.Forget("rec-1")
	assert.Empty(t, r.Speakers("rec-1"))
}

func TestMemoryRegistry_Errors(t *testing.T) {
	r := NewMemoryRegistry()

	_, err := r.Resolve(context.Background(), "  ", "rec")
	assert.ErrorIs(t, err, ErrEmptyLabel)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Resolve(ctx, "SPEAKER_00", "rec")
	assert.ErrorIs(t, err, context.Canceled)
}
