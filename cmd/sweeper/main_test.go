package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) MarkOverdue(ctx context.Context) (int, error) {
	s.calls.Add(1)
	return 0, s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunSweeps_Once(t *testing.T) {
	s := &countingSweeper{err: errors.New("db down")}

	err := runSweeps(context.Background(), s, time.Hour, true, quietLogger())

	assert.EqualError(t, err, "db down")
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestRunSweeps_LoopsUntilCancelled(t *testing.T) {
	s := &countingSweeper{err: errors.New("transient")}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() { done <- runSweeps(ctx, s, 5*time.Millisecond, false, quietLogger()) }()

	assert.Eventually(t, func() bool { return s.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRootCmd_Flags(t *testing.T) {
	cmd := newRootCmd()
	assert.NoError(t, cmd.ParseFlags([]string{"--once", "--interval", "10m"}))

	once, err := cmd.Flags().GetBool("once")
	assert.NoError(t, err)
	assert.True(t, once)

	interval, err := cmd.Flags().GetDuration("interval")
	assert.NoError(t, err)
	assert.Equal(t, 10*time.Minute, interval)
}
