package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kidspc/kidspc-server/internal/config"
	"github.com/kidspc/kidspc-server/internal/repository"
)

// CleanupJob sweeps the tables that accumulate operational debris:
// pairing tokens past their retention horizon, acked commands, and the
// online flag of devices that stopped heartbeating. Expired and consumed
// tokens stay readable for the retention window first, so polls keep
// seeing the terminal state instead of a vanished row.
type CleanupJob struct {
	pairingTokenRepo repository.PairingTokenRepository
	commandRepo      repository.CommandRepository
	deviceRepo       repository.DeviceRepository
	interval         time.Duration
	done             chan struct{}
}

func NewCleanupJob(
	pairingTokenRepo repository.PairingTokenRepository,
	commandRepo repository.CommandRepository,
	deviceRepo repository.DeviceRepository,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		pairingTokenRepo: pairingTokenRepo,
		commandRepo:      commandRepo,
		deviceRepo:       deviceRepo,
		interval:         interval,
		done:             make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.runCleanup(ctx, "pairing tokens", func(ctx context.Context) (int64, error) {
		return j.pairingTokenRepo.DeleteExpired(ctx, config.TokenRetention)
	})
	j.runCleanup(ctx, "acked commands", func(ctx context.Context) (int64, error) {
		return j.commandRepo.DeleteAcked(ctx, config.AckedCommandRetention)
	})
	j.runCleanup(ctx, "stale devices", func(ctx context.Context) (int64, error) {
		return j.deviceRepo.MarkStaleOffline(ctx, config.DeviceOfflineAfter)
	})
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
