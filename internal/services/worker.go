package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/lukateg/starter-kit/internal/config"
	"github.com/lukateg/starter-kit/pkg/logger"
	"github.com/rs/zerolog"
)

// Worker consumes effect tasks from Redis and hands them to the dispatcher.
type Worker struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	dispatcher *EffectDispatcher
	log        zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewWorker returns nil when Redis is disabled.
func NewWorker(cfg *config.RedisConfig, dispatcher *EffectDispatcher) *Worker {
	if !cfg.Enabled {
		return nil
	}

	log := logger.Module("effect_worker")
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	server := asynq.NewServer(redisClientOpt(cfg), asynq.Config{
		Concurrency:    concurrency,
		Queues:         effectQueuePriorities,
		RetryDelayFunc: effectRetryDelay,
		Logger:         asynqLogger{log: log},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.Warn().Err(err).
				Str("task_type", task.Type()).
				Int("retry", retried).
				Int("max_retry", maxRetry).
				Msg("effect task failed")
		}),
	})

	w := &Worker{
		server:     server,
		mux:        asynq.NewServeMux(),
		dispatcher: dispatcher,
		log:        log,
	}
	w.mux.HandleFunc(TaskTypeDeliverEffect, w.handleEffectTask)
	return w
}

func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	w.running = true
	w.log.Info().Msg("effect worker started")
	return nil
}

// Stop drains in-flight tasks before returning.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.server.Shutdown()
	w.running = false
	w.log.Info().Msg("effect worker stopped")
}

func (w *Worker) handleEffectTask(ctx context.Context, t *asynq.Task) error {
	return deliverEffectTask(ctx, w.dispatcher.Deliver, t)
}

// deliverEffectTask decodes t and passes the effect to deliver. Malformed
// payloads are not retried.
func deliverEffectTask(ctx context.Context, deliver func(context.Context, *Effect) error, t *asynq.Task) error {
	var e Effect
	if err := json.Unmarshal(t.Payload(), &e); err != nil {
		return errors.Join(asynq.SkipRetry, err)
	}
	if e.Kind == "" {
		return errors.Join(asynq.SkipRetry, errors.New("effect kind is empty"))
	}
	return deliver(ctx, &e)
}

// effectRetryDelay backs off 10s, 40s, 90s... capped at 15 minutes.
func effectRetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	d := time.Duration((n+1)*(n+1)) * 10 * time.Second
	if d > 15*time.Minute {
		d = 15 * time.Minute
	}
	return d
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }
