package shared

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisLockerExclusiveUntilReleased(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewRedisLocker(client, time.Minute)
	key := InvoiceLockKey("ORD-1")

	release, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, "pos:order:ORD-1:invoice:lock", key)

	_, err = locker.Acquire(context.Background(), key)
	require.ErrorIs(t, err, ErrLockHeld)

	release()
	require.False(t, srv.Exists(key))

	again, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)
	again()
}

func TestRedisLockerKeepsLockRetakenAfterExpiry(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewRedisLocker(client, time.Second)

	stale, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)
	srv.FastForward(2 * time.Second)

	_, err = locker.Acquire(context.Background(), "k")
	require.NoError(t, err)

	stale()
	require.True(t, srv.Exists("k"))
}

func TestErrorKinds(t *testing.T) {
	err := Validationf("qty must be positive, got %d", 0)
	require.True(t, IsValidation(err))
	require.EqualError(t, err, "validation failed: qty must be positive, got 0")
	require.True(t, IsPermission(Permissionf("claimed by %s", "ana")))
	require.True(t, IsConflict(Conflictf("table T1 changed")))
	require.ErrorIs(t, NotFoundf("order %s", "X"), ErrNotFound)
	require.False(t, IsConflict(errors.New("plain")))
}

func TestActorContext(t *testing.T) {
	_, ok := ActorFromContext(context.Background())
	require.False(t, ok)

	_, ok = ActorFromContext(ContextWithActor(context.Background(), Actor{ID: "  "}))
	require.False(t, ok)

	actor, ok := ActorFromContext(ContextWithActor(context.Background(), Actor{ID: " cashier ", Branch: "BR-1"}))
	require.True(t, ok)
	require.Equal(t, Actor{ID: "cashier", Branch: "BR-1"}, actor)
}

func TestBestEffortSwallowsErrorsAndPanics(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	BestEffort(logger, "publish", func() error { return errors.New("redis down") })
	BestEffort(logger, "audit", func() error { panic("boom") })

	require.Contains(t, buf.String(), "op=publish")
	require.Contains(t, buf.String(), "op=audit")
	require.Contains(t, buf.String(), "boom")
}
