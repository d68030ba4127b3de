package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/bobarin/reelcut/internal/models"
)

const (
	QueueExport = "queue:export"

	cancelKeyPrefix = "export:cancel:"
	eventsKeyPrefix = "export:events:"

	// Cancel flags and event lists outlive the export long enough for late
	// pollers, then expire.
	stateTTL = 24 * time.Hour
)

type Queue struct {
	client *redis.Client
}

type Job struct {
	ID        uuid.UUID              `json:"id"`
	Type      string                 `json:"type"`
	ProjectID uuid.UUID              `json:"project_id"`
	ExportID  uuid.UUID              `json:"export_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) *Queue {
	return &Queue{client: client}
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Enqueue(ctx context.Context, queueName string, job *Job) error {
	job.CreatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.RPush(ctx, queueName, data).Err()
}

func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, queueName).Result()
	if err == redis.Nil {
		return nil, nil // No job available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	return decodeJob(result[1])
}

func decodeJob(raw string) (*Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (q *Queue) GetQueueLength(ctx context.Context, queueName string) (int64, error) {
	return q.client.LLen(ctx, queueName).Result()
}

// EnqueueExport enqueues one export session for the worker.
func (q *Queue) EnqueueExport(ctx context.Context, projectID, exportID uuid.UUID) error {
	job := &Job{
		ID:        uuid.New(),
		Type:      "export",
		ProjectID: projectID,
		ExportID:  exportID,
	}
	return q.Enqueue(ctx, QueueExport, job)
}

// ---------------------------------------------------------------------------
// Cancel flags
// ---------------------------------------------------------------------------

// RequestCancel raises the cancel flag the worker polls for exportID.
func (q *Queue) RequestCancel(ctx context.Context, exportID uuid.UUID) error {
	return q.client.Set(ctx, cancelKeyPrefix+exportID.String(), "1", stateTTL).Err()
}

func (q *Queue) CancelRequested(ctx context.Context, exportID uuid.UUID) (bool, error) {
	n, err := q.client.Exists(ctx, cancelKeyPrefix+exportID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return n > 0, nil
}

func (q *Queue) ClearCancel(ctx context.Context, exportID uuid.UUID) error {
	return q.client.Del(ctx, cancelKeyPrefix+exportID.String()).Err()
}

// ---------------------------------------------------------------------------
// Progress event lists
// ---------------------------------------------------------------------------

// PublishEvent appends ev to the export's replayable event list.
func (q *Queue) PublishEvent(ctx context.Context, exportID uuid.UUID, ev models.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := eventsKeyPrefix + exportID.String()
	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, stateTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Events returns the events with Seq >= from, in order.
func (q *Queue) Events(ctx context.Context, exportID uuid.UUID, from int) ([]models.ProgressEvent, error) {
	if from < 0 {
		from = 0
	}
	raw, err := q.client.LRange(ctx, eventsKeyPrefix+exportID.String(), int64(from), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return decodeEvents(raw)
}

func decodeEvents(raw []string) ([]models.ProgressEvent, error) {
	events := make([]models.ProgressEvent, 0, len(raw))
	for i, r := range raw {
		var ev models.ProgressEvent
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event %d: %w", i, err)
		}
		events = append(events, ev)
	}
	return events, nil
}
