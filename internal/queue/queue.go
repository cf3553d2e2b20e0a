package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Stream carries one entry per accepted image.
	Stream = "images:stream"
	// Group is the worker-pool consumer group.
	Group = "image-workers"
)

// Job is the unit of work for one image. The durable copy of everything
// here lives in Postgres; the stream entry only routes the work, so a
// lost entry can always be rebuilt from the game_images table.
type Job struct {
	ImageID    string
	BatchID    string
	GameID     string
	ObjectPath string
	Filename   string
	RetryCount int
	EnqueuedAt time.Time
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// RedisQueue appends jobs to the image stream.
type RedisQueue struct {
	rdb *redis.Client
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	return q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: Stream,
		Values: map[string]any{
			"image_id":    job.ImageID,
			"batch_id":    job.BatchID,
			"game_id":     job.GameID,
			"object_path": job.ObjectPath,
			"filename":    job.Filename,
			"retry_count": strconv.Itoa(job.RetryCount),
			"enqueued_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
}

// FromMessage rebuilds a Job from a stream entry.
func FromMessage(msg redis.XMessage) Job {
	getStr := func(k string) string {
		v, ok := msg.Values[k]
		if !ok || v == nil {
			return ""
		}
		s, _ := v.(string)
		return s
	}

	retries, _ := strconv.Atoi(getStr("retry_count"))
	enqueued, _ := time.Parse(time.RFC3339, getStr("enqueued_at"))
	return Job{
		ImageID:    getStr("image_id"),
		BatchID:    getStr("batch_id"),
		GameID:     getStr("game_id"),
		ObjectPath: getStr("object_path"),
		Filename:   getStr("filename"),
		RetryCount: retries,
		EnqueuedAt: enqueued,
	}
}
