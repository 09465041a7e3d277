package jobs

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	log "github.com/sirupsen/logrus"

	"github.com/mirrorwish/hyperbit/common"
)

const PruneFrequency = time.Minute * 10

type Pruner interface {
	Prune() ([]common.Hash, error)
}

// This job runs every ten minutes, and drops any objects that have expired
// since the last run. Returns once ctx is done.
func PruneJob(ctx context.Context, clock mclock.Clock, store Pruner, frequency time.Duration) {
	for {
		tick := make(chan struct{})
		timer := clock.AfterFunc(frequency, func() { close(tick) })

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-tick:
		}

		pruneTick(store)
	}
}

func pruneTick(store Pruner) {
	removed, err := store.Prune()

	if err != nil {
		log.Error(err.Error())
	}

	if len(removed) > 0 {
		log.WithField("objects", len(removed)).Info("Pruned expired objects")
	}
}
