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
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/intakekit/relay/config"
	"github.com/intakekit/relay/internal/request"
	"github.com/intakekit/relay/model"
)

// Lifecycle events delivered to the configured audit webhook.
const (
	EventTopicCreated      = "topic.created"
	EventTopicStageChanged = "topic.stage_changed"
	EventTopicAccepted     = "topic.accepted"
	EventTopicRejected     = "topic.rejected"
	EventTopicReopened     = "topic.reopened"
	EventTopicArchived     = "topic.archived"
	EventTopicClaimed      = "topic.claimed"
	EventTopicUnclaimed    = "topic.unclaimed"
	EventTopicReassigned   = "topic.reassigned"
	EventTopicRenamed      = "topic.renamed"
	EventResourceDeleted   = "resource.deleted"
	EventRecordRetired     = "record.retired"
)

// Event is one audit trail entry. Events are enqueued by the engine and
// delivered out-of-band by the workers command.
type Event struct {
	EventID   string    `json:"event_id"`
	Event     string    `json:"event"`
	TopicID   int64     `json:"topic_id"`
	Actor     string    `json:"actor,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// emitEvent enqueues an audit event. Delivery is best effort and never blocks
// or fails the calling operation.
func (l *Relay) emitEvent(ctx context.Context, event string, topicID int64, actor model.Actor, message string) {
	conf, err := config.Fetch()
	if err != nil {
		logrus.Warnf("emit %s for topic %d: %v", event, topicID, err)
		return
	}
	if conf.Notification.Webhook.Url == "" {
		return
	}

	e := &Event{
		EventID:   fmt.Sprintf("evt_%s", uuid.New().String()),
		Event:     event,
		TopicID:   topicID,
		Actor:     actor.DisplayName(),
		Message:   message,
		CreatedAt: time.Now(),
	}
	if err := l.queue.queueEvent(ctx, e); err != nil {
		logrus.Warnf("failed to enqueue %s for topic %d: %v", event, topicID, err)
	}
}

// ProcessEvent delivers one audit event task from the queue.
func ProcessEvent(_ context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var event Event
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		log.Printf("Error unmarshaling event payload: %v", err)
		return err
	}
	log.Printf("Delivering event: %s topic=%d", event.Event, event.TopicID)
	return deliverEvent(conf, &event)
}

func deliverEvent(conf *config.Configuration, event *Event) error {
	payload, err := request.ToJsonReq(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, conf.Notification.Webhook.Url, payload)
	if err != nil {
		return err
	}
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	resp, err := request.Call(req, nil)
	if err != nil {
		return err
	}
	return request.StatusError(resp)
}
