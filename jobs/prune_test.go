package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"

	"github.com/mirrorwish/hyperbit/common"
)

type countingPruner struct {
	runs atomic.Int32
	fail bool
}

func (p *countingPruner) Prune() ([]common.Hash, error) {
	p.runs.Add(1)

	if p.fail {
		return nil, errors.New("disk on fire")
	}

	return []common.Hash{{1}}, nil
}

func TestPruneJob(t *testing.T) {
	clock := new(mclock.Simulated)
	store := &countingPruner{}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		PruneJob(ctx, clock, store, PruneFrequency)
		close(done)
	}()

	clock.WaitForTimers(1)

	if store.runs.Load() != 0 {
		t.Fatal("pruned before the first tick")
	}

	clock.Run(PruneFrequency - time.Second)
	if store.runs.Load() != 0 {
		t.Fatal("pruned early")
	}

	clock.Run(time.Second)
	clock.WaitForTimers(1)

	if store.runs.Load() != 1 {
		t.Fatal("expected one prune, got", store.runs.Load())
	}

	cancel()
	<-done
}

func TestPruneJobSurvivesErrors(t *testing.T) {
	clock := new(mclock.Simulated)
	store := &countingPruner{fail: true}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		PruneJob(ctx, clock, store, time.Minute)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		clock.WaitForTimers(1)
		clock.Run(time.Minute)
	}

	clock.WaitForTimers(1)

	if store.runs.Load() != 3 {
		t.Fatal("expected three prunes, got", store.runs.Load())
	}

	cancel()
	<-done
}
