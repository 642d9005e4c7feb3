package worker

import (
	"context"
	"time"

	"github.com/eventbooker/ticketing/internal/service"

	log "github.com/sirupsen/logrus"
)

// ReclaimWorker periodically returns inventory held by stale pending
// bookings back to the pool.
type ReclaimWorker struct {
	bookings service.BookingService
	interval time.Duration
}

func NewReclaimWorker(bookings service.BookingService, interval time.Duration) *ReclaimWorker {
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	return &ReclaimWorker{
		bookings: bookings,
		interval: interval,
	}
}

func (w *ReclaimWorker) Start(ctx context.Context) {
	log.WithField("interval", w.interval).Info("Reclaim worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Reclaim worker stopped")
			return
		case <-ticker.C:
			w.run(ctx)
		}
	}
}

func (w *ReclaimWorker) run(ctx context.Context) {
	reclaimed, err := w.bookings.ReclaimExpired(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to reclaim expired bookings")
		return
	}
	if reclaimed > 0 {
		log.WithField("count", reclaimed).Info("Reclaimed expired bookings")
	}
}
