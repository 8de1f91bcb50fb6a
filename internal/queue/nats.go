package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/vidtrack/pkg/dto"
)

const (
	JobsStreamName     = "JOBS"
	JobsSubject        = "jobs.process"
	ProgressStreamName = "PROGRESS"
	ProgressSubject    = "progress.jobs"
)

// NATS is the durable JetStream-backed queue: job references survive a
// restart of this process, and progress events fan out to any number of
// readers.
type NATS struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	maxMsgs  int64
}

func NewNATS(url string, queueSize int) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &NATS{nc: nc, js: js, maxMsgs: int64(queueSize)}, nil
}

// EnsureStreams creates the work and progress streams if missing and
// binds the single durable worker consumer.
func (q *NATS) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        JobsStreamName,
			Subjects:    []string{JobsSubject},
			Retention:   jetstream.WorkQueuePolicy,
			MaxMsgs:     q.maxMsgs,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardNew,
			Description: "Job references waiting for the scheduler worker",
		},
		{
			Name:        ProgressStreamName,
			Subjects:    []string{ProgressSubject},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      time.Hour,
			Storage:     jetstream.FileStorage,
			Description: "Job progress events",
		},
	}

	for _, cfg := range streams {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := q.js.CreateOrUpdateStream(opCtx, cfg)
		cancel()
		if err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		slog.Info("ensured NATS stream", "name", cfg.Name)
	}

	stream, err := q.js.Stream(ctx, JobsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", JobsStreamName, err)
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:      "scheduler-worker",
		Durable:   "scheduler-worker",
		AckPolicy: jetstream.AckExplicitPolicy,
		AckWait:   30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("create worker consumer: %w", err)
	}
	q.consumer = cons
	return nil
}

func (q *NATS) Enqueue(ctx context.Context, ref JobRef) error {
	payload, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("marshal job ref: %w", err)
	}
	if _, err := q.js.Publish(ctx, JobsSubject, payload); err != nil {
		return fmt.Errorf("enqueue job %d/%d: %w", ref.ProjectID, ref.JobID, err)
	}
	return nil
}

func (q *NATS) Dequeue(ctx context.Context, wait time.Duration) (JobRef, bool, error) {
	batch, err := q.consumer.Fetch(1, jetstream.FetchMaxWait(wait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return JobRef{}, false, nil
		}
		return JobRef{}, false, fmt.Errorf("fetch job ref: %w", err)
	}

	for msg := range batch.Messages() {
		var ref JobRef
		if err := json.Unmarshal(msg.Data(), &ref); err != nil {
			// A malformed reference can never succeed; drop it.
			slog.Error("unmarshal job ref", "error", err)
			_ = msg.Ack()
			return JobRef{}, false, nil
		}
		_ = msg.Ack()
		return ref, true, nil
	}
	return JobRef{}, false, nil
}

func (q *NATS) Depth(ctx context.Context) (int, error) {
	stream, err := q.js.Stream(ctx, JobsStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return int(info.State.Msgs), nil
}

// PublishProgress pushes one progress event to the progress stream.
func (q *NATS) PublishProgress(ctx context.Context, ev dto.ProgressEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	if _, err := q.js.Publish(ctx, ProgressSubject, payload); err != nil {
		return fmt.Errorf("publish progress: %w", err)
	}
	return nil
}

// ProgressHandler receives one decoded progress event.
type ProgressHandler func(ctx context.Context, ev dto.ProgressEvent)

// ConsumeProgress feeds progress events to the handler until ctx is done.
func (q *NATS) ConsumeProgress(ctx context.Context, consumerName string, handler ProgressHandler) error {
	stream, err := q.js.Stream(ctx, ProgressStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", ProgressStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			if ctx.Err() != nil {
				return
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, nats.ErrTimeout) {
					slog.Warn("fetch progress events", "error", err)
					time.Sleep(time.Second)
				}
				continue
			}

			for msg := range batch.Messages() {
				var ev dto.ProgressEvent
				if err := json.Unmarshal(msg.Data(), &ev); err != nil {
					slog.Error("unmarshal progress event", "error", err)
					_ = msg.Ack()
					continue
				}
				handler(ctx, ev)
				_ = msg.Ack()
			}
		}
	}()

	slog.Info("progress consumer started", "consumer", consumerName)
	return nil
}

func (q *NATS) Ping() error {
	if !q.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (q *NATS) Close() {
	q.nc.Close()
}
