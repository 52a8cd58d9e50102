package payment

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "GSOURCE")
	require.NoError(t, err)

	_, err = l.Lock(ctx, "GSOURCE")
	assert.ErrorIs(t, err, ErrSourceBusy)

	other, err := l.Lock(ctx, "GOTHER")
	require.NoError(t, err)
	other()

	unlock()
	unlock() // idempotent

	again, err := l.Lock(ctx, "GSOURCE")
	require.NoError(t, err)
	again()
}

func TestRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLocker(client, 10*time.Second)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "GSOURCE")
	require.NoError(t, err)
	assert.True(t, mr.Exists("stellarpay:lock:source:GSOURCE"))

	_, err = l.Lock(ctx, "GSOURCE")
	assert.ErrorIs(t, err, ErrSourceBusy)

	unlock()
	assert.False(t, mr.Exists("stellarpay:lock:source:GSOURCE"))

	unlock, err = l.Lock(ctx, "GSOURCE")
	require.NoError(t, err)
	unlock()
}
