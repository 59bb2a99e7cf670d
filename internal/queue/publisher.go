package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	// TaskOrphanBlob asks the worker to remove a blob nothing references.
	TaskOrphanBlob = "orphan_blob"
	// TaskReconcileDeletes asks the worker to retry deletes left pending.
	TaskReconcileDeletes = "reconcile_deletes"
)

type Task struct {
	Type       string `json:"type"`
	StorageKey string `json:"storageKey,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func (t Task) values() map[string]any {
	values := map[string]any{"type": t.Type}
	if t.StorageKey != "" {
		values["storageKey"] = t.StorageKey
	}
	if t.Reason != "" {
		values["reason"] = t.Reason
	}
	return values
}

// DecodeTask reads a task back from stream entry values.
func DecodeTask(values map[string]interface{}) (Task, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return Task{}, err
	}
	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return Task{}, err
	}
	if task.Type == "" {
		return Task{}, fmt.Errorf("task without type")
	}
	return task, nil
}

type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

type Publisher struct {
	client streamAdder
	stream string
}

func NewPublisher(client streamAdder, stream string) *Publisher {
	return &Publisher{client: client, stream: stream}
}

func (p *Publisher) Publish(ctx context.Context, task Task) error {
	if p == nil || p.client == nil {
		return nil
	}
	_, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: task.values(),
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// ReportOrphan queues a blob that was written without a metadata row.
func (p *Publisher) ReportOrphan(ctx context.Context, storageKey, reason string) error {
	return p.Publish(ctx, Task{Type: TaskOrphanBlob, StorageKey: storageKey, Reason: reason})
}
