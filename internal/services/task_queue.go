package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/lukateg/starter-kit/internal/config"
	"github.com/lukateg/starter-kit/pkg/logger"
)

const TaskTypeDeliverEffect = "effect:deliver"

// Effect queues, weighted for the worker.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

var effectQueuePriorities = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
}

// EffectQueue is an Effects implementation that hands delivery off the
// request path.
type EffectQueue interface {
	Effects
	IsAsync() bool
	// Close flushes or releases whatever the queue holds.
	Close() error
}

var (
	globalEffectQueue EffectQueue
	effectQueueOnce   sync.Once
)

// InitEffectQueue picks the Redis-backed queue when configured and reachable,
// otherwise effects are delivered in-process by dispatcher.
func InitEffectQueue(cfg *config.Config, dispatcher *EffectDispatcher) EffectQueue {
	effectQueueOnce.Do(func() {
		log := logger.Module("effect_queue")
		if !cfg.Redis.Enabled {
			log.Info().Msg("redis disabled, delivering effects in-process")
			globalEffectQueue = NewSyncEffectQueue(dispatcher.Deliver)
			return
		}
		queue, err := NewAsyncEffectQueue(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, delivering effects in-process")
			globalEffectQueue = NewSyncEffectQueue(dispatcher.Deliver)
			return
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("effects queued through redis")
		globalEffectQueue = queue
	})
	return globalEffectQueue
}

func GetEffectQueue() EffectQueue {
	return globalEffectQueue
}

func redisClientOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// AsyncEffectQueue enqueues effects for the Worker through asynq.
type AsyncEffectQueue struct {
	client   *asynq.Client
	maxRetry int
}

// NewAsyncEffectQueue fails when Redis cannot be reached.
func NewAsyncEffectQueue(cfg *config.RedisConfig) (*AsyncEffectQueue, error) {
	opt := redisClientOpt(cfg)
	client := asynq.NewClient(opt)

	inspector := asynq.NewInspector(opt)
	defer inspector.Close()
	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	maxRetry := cfg.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &AsyncEffectQueue{client: client, maxRetry: maxRetry}, nil
}

// NewEffectTask encodes an effect as an asynq task.
func NewEffectTask(e *Effect) (*asynq.Task, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDeliverEffect, payload), nil
}

// effectTaskOptions routes invitation mail to the critical queue.
func effectTaskOptions(e *Effect, maxRetry int) []asynq.Option {
	opts := []asynq.Option{asynq.MaxRetry(maxRetry)}
	switch e.Kind {
	case EffectInvitationEmail:
		opts = append(opts, asynq.Queue(QueueCritical), asynq.Retention(24*time.Hour))
	default:
		opts = append(opts, asynq.Queue(QueueDefault))
	}
	return opts
}

func (q *AsyncEffectQueue) Notify(ctx context.Context, e *Effect) error {
	t, err := NewEffectTask(e)
	if err != nil {
		return err
	}
	info, err := q.client.EnqueueContext(ctx, t, effectTaskOptions(e, q.maxRetry)...)
	if err != nil {
		return err
	}
	logger.Debug().Str("task_id", info.ID).Str("queue", info.Queue).Str("kind", string(e.Kind)).Msg("effect enqueued")
	return nil
}

func (q *AsyncEffectQueue) IsAsync() bool { return true }

func (q *AsyncEffectQueue) Close() error {
	return q.client.Close()
}

// SyncEffectQueue delivers effects in a background goroutine of this process.
type SyncEffectQueue struct {
	deliver func(context.Context, *Effect) error
	wg      sync.WaitGroup
}

func NewSyncEffectQueue(deliver func(context.Context, *Effect) error) *SyncEffectQueue {
	return &SyncEffectQueue{deliver: deliver}
}

// Notify returns immediately; delivery errors are only logged.
func (q *SyncEffectQueue) Notify(_ context.Context, e *Effect) error {
	if q.deliver == nil {
		logger.Warn().Str("kind", string(e.Kind)).Msg("no effect deliverer configured, dropping effect")
		return nil
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := q.deliver(context.Background(), e); err != nil {
			effectDeliveries.WithLabelValues(string(e.Kind), "delivery_failed").Inc()
			logger.Warn().Err(err).Str("kind", string(e.Kind)).Msg("effect delivery failed")
		}
	}()
	return nil
}

func (q *SyncEffectQueue) IsAsync() bool { return false }

// Close waits for in-flight deliveries.
func (q *SyncEffectQueue) Close() error {
	q.wg.Wait()
	return nil
}
