package repository_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/matins/pkg/repository"
	"golang.org/x/sync/errgroup"
)

func TestGuardSerializesSameKey(t *testing.T) {
	g := repository.NewGuard()
	ctx := context.Background()

	var inFlight, maxInFlight int32
	var eg errgroup.Group
	for i := 0; i < 20; i++ {
		eg.Go(func() error {
			return g.Do(ctx, "history", func() error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					m := atomic.LoadInt32(&maxInFlight)
					if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		})
	}
	gt.NoError(t, eg.Wait())
	gt.Equal(t, atomic.LoadInt32(&maxInFlight), int32(1))
	gt.Equal(t, repository.GuardSize(g), 0)
}

func TestGuardDifferentKeysDoNotBlock(t *testing.T) {
	g := repository.NewGuard()
	ctx := context.Background()

	unlockA, err := g.Lock(ctx, "conversation:a")
	gt.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		defer close(done)
		unlockB, err := g.Lock(ctx, "conversation:b")
		if err == nil {
			unlockB()
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key was blocked")
	}
}

func TestGuardLockHonorsContext(t *testing.T) {
	g := repository.NewGuard()

	unlock, err := g.Lock(context.Background(), "history")
	gt.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = g.Lock(ctx, "history")
	gt.Error(t, err)
	gt.True(t, err == context.DeadlineExceeded)

	unlock()
	unlock()
	gt.Equal(t, repository.GuardSize(g), 0)
}
