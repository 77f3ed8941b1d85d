package memory

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceStore(t *testing.T) {
	ctx := context.Background()
	s := NewPresenceStore()

	_, err := s.FindPresence(ctx, "u1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	now := time.Now()
	require.NoError(t, s.UpdatePresence(ctx, "u1", true, now))
	p, err := s.FindPresence(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.IsOnline)
	assert.Equal(t, now, p.LastSeen)
	assert.Equal(t, 1, s.Writes("u1"))
}

func TestMessageStore(t *testing.T) {
	ctx := context.Background()
	s := NewMessageStore()

	m1, _ := domain.NewMessage("u1", "u2", "hi", time.Time{})
	m2, _ := domain.NewMessage("u1", "u2", "again", time.Time{})
	m3, _ := domain.NewMessage("u2", "u1", "back", time.Time{})
	for _, m := range []*domain.Message{m1, m2, m3} {
		require.NoError(t, s.CreateMessage(ctx, m))
		assert.NotEmpty(t, m.ID)
	}

	n, err := s.UpdateReadFlags(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.UpdateReadFlags(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Zero(t, n)

	all := s.All()
	require.Len(t, all, 3)
	assert.False(t, all[2].IsRead)
}
