/*
Copyright 2025 Relay Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/intakekit/relay/config"
	redis_db "github.com/intakekit/relay/internal/redis-db"
)

// Queue owns the delayed archive tasks and the outbound event tasks.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// archivePayload is the task body for a scheduled archival.
type archivePayload struct {
	TopicID int64 `json:"topic_id"`
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(fmt.Sprintf("redis://%s", conf.Redis.Dns), conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

func archiveTaskID(topicID int64) string {
	return fmt.Sprintf("archive:topic:%d", topicID)
}

// queueArchiveTask enqueues the delayed archival task for a topic. The task id
// is derived from the topic id, so a second schedule while one is live hits
// asynq's id conflict and becomes a no-op: first writer wins.
//
// Archive tasks carry no automatic retries. A failed archival is revisited by
// the next reconciliation sweep rather than an overlapping retry loop.
func (q *Queue) queueArchiveTask(ctx context.Context, topicID int64, due time.Time) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(archivePayload{TopicID: topicID})
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(archiveTaskID(topicID)),
		asynq.Queue(cfg.Queue.ArchiveQueue),
		asynq.ProcessIn(time.Until(due)),
		asynq.MaxRetry(0),
	}
	task := asynq.NewTask(cfg.Queue.ArchiveQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			log.Printf(" [*] Archive task already live for topic %d, keeping the existing one", topicID)
			return nil
		}
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued archive task for topic %d, due %s", topicID, due.Format(time.RFC3339))
	return nil
}

// cancelArchiveTask deletes a still-pending archive task. A task that is
// already running is left alone; the archival action itself re-checks the
// record before acting.
func (q *Queue) cancelArchiveTask(topicID int64) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	err = q.Inspector.DeleteTask(cfg.Queue.ArchiveQueue, archiveTaskID(topicID))
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil
		}
		return err
	}
	log.Printf(" [*] Cancelled pending archive task for topic %d", topicID)
	return nil
}

// queueEvent enqueues an outbound audit event for delivery by the workers.
func (q *Queue) queueEvent(ctx context.Context, event *Event) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.Queue(cfg.Queue.EventQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	}
	task := asynq.NewTask(cfg.Queue.EventQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}
