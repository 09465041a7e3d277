package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"

	hyperbit "github.com/mirrorwish/hyperbit"
	"github.com/mirrorwish/hyperbit/proto"
)

// these two are inserted by the makefile at build time
var (
	Version   = "N/A"
	BuildTime = "N/A"
)

const StatsFrequency = time.Minute

func logStats(ctx context.Context, cs *hyperbit.CommandServer) {
	ticker := time.NewTicker(StatsFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		res := cs.Stats()
		stats := res.Value.(hyperbit.Stats)

		objects := cs.Objects()

		log.WithFields(log.Fields{
			"connected": stats.Connected,
			"pending":   stats.Pending,
			"known":     stats.Known,
			"objects":   objects.Value,
		}).Info("Status")
	}
}

func main() {
	formatter := new(log.TextFormatter)
	formatter.FullTimestamp = true
	formatter.TimestampFormat = "15:04:05"
	log.SetFormatter(formatter)

	SetupConfig()
	SetupLogLevel()

	if Version != "N/A" {
		proto.Version = Version
	}

	log.WithFields(log.Fields{
		"version": Version,
		"built":   BuildTime,
	}).Info("Starting hyperbitd")

	config := LoadConfig()

	lp, err := hyperbit.NewLocalPeer(config)

	if err != nil {
		log.Fatal(err.Error())
	}

	log.WithFields(log.Fields{
		"mode":       config.Proxy,
		"user agent": lp.Identity.UserAgent,
	}).Info("Local peer ready")

	ctx, cancel := context.WithCancel(context.Background())

	lp.PeerManager().OnStatsChanged(func(s hyperbit.Stats) {
		log.WithFields(log.Fields{
			"connected": s.Connected,
			"pending":   s.Pending,
			"known":     s.Known,
		}).Debug("Connections changed")
	})

	go logStats(ctx, hyperbit.NewCommandServer(lp))

	done := make(chan error, 1)
	go func() {
		done <- lp.Run(ctx)
	}()

	// Listen for SIGINT
	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, os.Interrupt)

	select {
	case <-sigchan:
		log.Info("Shutting down")
		cancel()
		err = <-done
	case err = <-done:
		cancel()
	}

	lp.Close()

	if err != nil {
		log.Fatal(err.Error())
	}
}
