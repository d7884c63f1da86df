package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/pladee42/alt-history-reel/config"
)

const TypePhaseRun = "pipeline:phase"

// PhasePayload is the queued unit of work: run one pipeline phase.
type PhasePayload struct {
	Phase int `json:"phase"`
}

// QueueClient enqueues phase runs for the worker process.
type QueueClient struct {
	client *asynq.Client
	log    *logrus.Entry
}

func NewQueueClient(cfg *config.Config) *QueueClient {
	return &QueueClient{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		}),
		log: logrus.WithField("component", "queue"),
	}
}

func (q *QueueClient) Close() error {
	return q.client.Close()
}

// EnqueuePhase schedules one phase run. Video generation dominates the
// timeout budget.
func (q *QueueClient) EnqueuePhase(phase int) error {
	payload, err := json.Marshal(PhasePayload{Phase: phase})
	if err != nil {
		return fmt.Errorf("marshal phase payload: %w", err)
	}

	task := asynq.NewTask(TypePhaseRun, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(45*time.Minute),
		asynq.Retention(24*time.Hour),
	)

	info, err := q.client.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue phase %d: %w", phase, err)
	}

	q.log.WithFields(logrus.Fields{"phase": phase, "task": info.ID}).Info("phase enqueued")
	return nil
}

// RunWorker blocks, consuming phase-run tasks and driving them through the
// orchestrator. One phase run at a time: the orchestrator already fans out
// per record, and provider quota is the real ceiling.
func RunWorker(cfg *config.Config, orch *Orchestrator) error {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password},
		asynq.Config{Concurrency: 1},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePhaseRun, func(ctx context.Context, t *asynq.Task) error {
		var p PhasePayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("phase payload: %v: %w", err, asynq.SkipRetry)
		}

		summary, err := orch.RunPhase(ctx, p.Phase)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"phase":     p.Phase,
			"processed": summary.Processed,
			"advanced":  summary.Advanced,
			"failed":    summary.Failed,
		}).Info("phase run finished")
		return nil
	})

	return srv.Run(mux)
}
