package scheduler

import (
	"context"
	"errors"
	"fmt"

		"lettings_backend/platform/apperr"
	"lettings_backend/platform/config"
	"lettings_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// LeadCaller places the scheduled call for a lead. Implementations decide whether
// the lead still needs one.
type LeadCaller interface {
	PlaceScheduledCall(ctx context.Context, leadID uuid.UUID) error
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	caller LeadCaller
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, caller LeadCaller, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
		caller: caller,
		log:    log,
	}
	w.mux.HandleFunc(TaskPlaceLeadCall, w.handlePlaceLeadCall)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handlePlaceLeadCall(ctx context.Context, task *asynq.Task) error {
	payload, err := ParsePlaceLeadCallPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil {
		return fmt.Errorf("invalid lead id %q: %w", payload.LeadID, asynq.SkipRetry)
	}

	err = w.caller.PlaceScheduledCall(ctx, leadID)
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Kind == apperr.KindNotFound {
		w.log.Info("scheduled call skipped, lead removed", "lead_id", leadID.String())
		return nil
	}
	return err
}
