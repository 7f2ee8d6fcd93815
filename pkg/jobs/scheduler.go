// Package jobs runs the background maintenance schedules: token purging
// and anything else that should happen on a timer rather than on a request.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/hexagonlabs/roster/pkg/identity"
)

// DefaultPurgeSchedule runs the token purge hourly at five past.
const DefaultPurgeSchedule = "5 * * * *"

// Scheduler owns the cron loop for background jobs.
type Scheduler struct {
	cron     *cron.Cron
	identity identity.Service
	log      *logrus.Logger
}

// NewScheduler creates a scheduler. A nil logger gets a default logrus
// instance.
func NewScheduler(identitySvc identity.Service, log *logrus.Logger) *Scheduler {
	if log == nil {
		log = logrus.New()
	}
	return &Scheduler{
		cron:     cron.New(),
		identity: identitySvc,
		log:      log,
	}
}

// RegisterTokenPurge schedules periodic deletion of expired and revoked
// API tokens.
func (s *Scheduler) RegisterTokenPurge(schedule string) error {
	if schedule == "" {
		schedule = DefaultPurgeSchedule
	}
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.purgeTokens(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule token purge: %w", err)
	}
	return nil
}

func (s *Scheduler) purgeTokens(ctx context.Context) {
	purged, err := s.identity.PurgeExpiredTokens(ctx)
	if err != nil {
		s.log.WithError(err).Error("token purge failed")
		return
	}
	if purged > 0 {
		s.log.WithFields(logrus.Fields{
			"purged": purged,
		}).Info("purged expired tokens")
	}
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for any running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
