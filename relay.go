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
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/intakekit/relay/config"
	"github.com/intakekit/relay/database"
	"github.com/intakekit/relay/forum"
	"github.com/intakekit/relay/internal/cache"
	redis_db "github.com/intakekit/relay/internal/redis-db"
	"github.com/intakekit/relay/model"
	"github.com/intakekit/relay/surface"
)

var tracer = otel.Tracer("relay.engine")

// Relay is the synchronization engine. It owns the per-topic locks, the
// archive queue, and the adapters to the forum and the chat surface.
type Relay struct {
	datasource database.IDataSource
	queue      *Queue
	forum      forum.TopicSource
	surface    surface.Surface
	redis      redis.UniversalClient
	locks      *lockRegistry
}

// NewRelay initializes the engine with the provided datasource, wiring the
// redis client, the archive queue and the two external adapters from the
// loaded configuration.
func NewRelay(db database.IDataSource) (*Relay, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient(fmt.Sprintf("redis://%s", configuration.Redis.Dns), configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	topicCache, err := cache.NewCache()
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)

	return &Relay{
		datasource: db,
		queue:      newQueue,
		forum:      forum.NewClient(configuration.Forum, topicCache),
		surface:    surface.NewDiscordClient(configuration.Chat),
		redis:      redisClient.Client(),
		locks:      newLockRegistry(),
	}, nil
}

// GetRecord returns the tracked record for one topic.
func (l *Relay) GetRecord(ctx context.Context, topicID int64) (*model.ApplicationRecord, error) {
	return l.datasource.GetApplication(ctx, topicID)
}

// ListOpenRecords returns every record that has not been archived yet.
func (l *Relay) ListOpenRecords(ctx context.Context) ([]*model.ApplicationRecord, error) {
	return l.datasource.GetOpenApplications(ctx)
}
