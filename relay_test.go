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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"

	"github.com/intakekit/relay/config"
	"github.com/intakekit/relay/database/mocks"
	"github.com/intakekit/relay/internal/apierror"
	"github.com/intakekit/relay/model"
	"github.com/intakekit/relay/surface"
)

const (
	testNotifyChannel  = int64(100)
	testArchiveChannel = int64(200)
	testCategory       = 5
)

// fakeForum is an in-memory TopicSource for engine tests. A snapshot placed
// in cached is served instead of the live topic until InvalidateTopic drops
// it, mimicking the real client's TTL cache.
type fakeForum struct {
	mu      sync.Mutex
	topics  map[int64]*model.Topic
	cached  map[int64]*model.Topic
	written map[int64][][]string
	titles  map[int64]string

	fetchErr  error
	onSetTags func(topicID int64, tags []string)

	fetches     int32
	inFlight    int32
	maxInFlight int32
}

func newFakeForum() *fakeForum {
	return &fakeForum{
		topics:  make(map[int64]*model.Topic),
		cached:  make(map[int64]*model.Topic),
		written: make(map[int64][][]string),
		titles:  make(map[int64]string),
	}
}

func (f *fakeForum) cacheSnapshot(topic model.Topic) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if topic.URL == "" {
		topic.URL = fmt.Sprintf("https://forum.test/t/%s/%d", topic.Slug, topic.ID)
	}
	f.cached[topic.ID] = &topic
}

func (f *fakeForum) InvalidateTopic(ctx context.Context, topicID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cached, topicID)
}

func (f *fakeForum) addTopic(topic model.Topic) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if topic.URL == "" {
		topic.URL = fmt.Sprintf("https://forum.test/t/%s/%d", topic.Slug, topic.ID)
	}
	f.topics[topic.ID] = &topic
}

func (f *fakeForum) FetchTopic(ctx context.Context, topicID int64) (*model.Topic, error) {
	atomic.AddInt32(&f.fetches, 1)
	current := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if current <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, current) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if cached, ok := f.cached[topicID]; ok {
		copied := *cached
		copied.Tags = append([]string{}, cached.Tags...)
		return &copied, nil
	}
	topic, ok := f.topics[topicID]
	if !ok {
		return nil, fmt.Errorf("topic %d not found", topicID)
	}
	copied := *topic
	copied.Tags = append([]string{}, topic.Tags...)
	return &copied, nil
}

func (f *fakeForum) SetTopicTags(ctx context.Context, topicID int64, tags []string) error {
	if f.onSetTags != nil {
		f.onSetTags(topicID, tags)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written[topicID] = append(f.written[topicID], append([]string{}, tags...))
	if topic, ok := f.topics[topicID]; ok {
		topic.Tags = append([]string{}, tags...)
	}
	delete(f.cached, topicID)
	return nil
}

func (f *fakeForum) SetTopicTitle(ctx context.Context, topicID int64, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles[topicID] = title
	if topic, ok := f.topics[topicID]; ok {
		topic.Title = title
	}
	delete(f.cached, topicID)
	return nil
}

func (f *fakeForum) lastWrittenTags(topicID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	writes := f.written[topicID]
	if len(writes) == 0 {
		return nil
	}
	return writes[len(writes)-1]
}

// newTestRelay builds an engine wired to in-memory fakes and a miniredis
// backed queue.
func newTestRelay(t *testing.T) (*Relay, *mocks.MockDataSource, *surface.Fake, *fakeForum) {
	t.Helper()

	mr := miniredis.RunT(t)
	opt := asynq.RedisClientOpt{Addr: mr.Addr()}
	queue := &Queue{Client: asynq.NewClient(opt), Inspector: asynq.NewInspector(opt)}
	t.Cleanup(func() {
		_ = queue.Client.Close()
		_ = queue.Inspector.Close()
	})

	config.MockConfig(&config.Configuration{
		Forum: config.ForumConfig{BaseUrl: "https://forum.test", CategoryID: testCategory},
		Chat: config.ChatConfig{
			Mode:                 config.ModeTest,
			TestGuildID:          1,
			TestNotifyChannelID:  testNotifyChannel,
			TestArchiveChannelID: testArchiveChannel,
			ClaimRoles:           []string{"Recruiters"},
			OverrideRoles:        []string{"Recruitment Leads"},
			ArchiveDelayMinutes:  30,
		},
		Queue: config.QueueConfig{ArchiveQueue: "archive", EventQueue: "events", MaxRetryAttempts: 3},
	})

	ds := &mocks.MockDataSource{}
	fake := surface.NewFake()
	ff := newFakeForum()

	l := &Relay{
		datasource: ds,
		queue:      queue,
		forum:      ff,
		surface:    fake,
		redis:      redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		locks:      newLockRegistry(),
	}
	return l, ds, fake, ff
}

func notFoundErr() error {
	return apierror.APIError{Code: apierror.ErrNotFound, Message: "record not found"}
}

func toTags(v interface{}) []string {
	if tags, ok := v.([]string); ok {
		return tags
	}
	return nil
}

func toTime(v interface{}) time.Time {
	if at, ok := v.(time.Time); ok {
		return at
	}
	return time.Time{}
}

// bindRecord registers the datasource mutators so the shared record behaves
// like a database row across repeated reads.
func bindRecord(ds *mocks.MockDataSource, record *model.ApplicationRecord) {
	ds.On("GetApplication", mock.Anything, record.TopicID).Return(record, nil)
	ds.On("SetTagsLastSeen", mock.Anything, record.TopicID, mock.Anything).Run(func(args mock.Arguments) {
		record.TagsLastSeen = toTags(args.Get(2))
	}).Return(nil)
	ds.On("SetTagsLastWritten", mock.Anything, record.TopicID, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		record.TagsLastWritten = toTags(args.Get(2))
		record.TagsWrittenAt = toTime(args.Get(3))
	}).Return(nil)
	ds.On("SetTopicSnapshot", mock.Anything, record.TopicID, mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		record.TopicTitle = args.String(2)
		record.TopicAuthor = args.String(3)
		record.TopicSyncedAt = toTime(args.Get(4))
	}).Return(nil)
	ds.On("SetTopicTitle", mock.Anything, record.TopicID, mock.Anything).Run(func(args mock.Arguments) {
		record.TopicTitle = args.String(2)
	}).Return(nil)
	ds.On("SetThreadID", mock.Anything, record.TopicID, mock.Anything).Run(func(args mock.Arguments) {
		record.ThreadID = args.Get(2).(int64)
	}).Return(nil)
	ds.On("SetControlMessageID", mock.Anything, record.TopicID, mock.Anything).Run(func(args mock.Arguments) {
		record.ControlMessageID = args.Get(2).(int64)
	}).Return(nil)
	ds.On("SetThreadNameHistory", mock.Anything, record.TopicID, mock.Anything).Run(func(args mock.Arguments) {
		record.ThreadNameHistory = toTags(args.Get(2))
	}).Return(nil)
	ds.On("SetMessageMissing", mock.Anything, record.TopicID, mock.Anything).Run(func(args mock.Arguments) {
		record.MessageMissing = args.Bool(2)
	}).Return(nil)
	ds.On("MarkAccepted", mock.Anything, record.TopicID, mock.Anything).Run(func(args mock.Arguments) {
		record.AcceptedAt = toTime(args.Get(2))
	}).Return(nil)
	ds.On("SetArchiveStatus", mock.Anything, record.TopicID, mock.Anything).Run(func(args mock.Arguments) {
		record.ArchiveStatus = args.String(2)
	}).Return(nil)
	ds.On("ScheduleArchive", mock.Anything, record.TopicID, mock.Anything).Run(func(args mock.Arguments) {
		record.ArchiveScheduledAt = toTime(args.Get(2))
	}).Return(nil)
	ds.On("SetArchiveInProgress", mock.Anything, record.TopicID, mock.Anything).Run(func(args mock.Arguments) {
		record.ArchiveInProgress = args.Bool(2)
	}).Return(nil)
	ds.On("MarkArchived", mock.Anything, record.TopicID, mock.Anything).Run(func(args mock.Arguments) {
		record.ArchivedAt = toTime(args.Get(2))
		record.ArchiveScheduledAt = time.Time{}
		record.ArchiveInProgress = false
	}).Return(nil)
}

// seedCard posts a card to the notify channel and returns its message id.
func seedCard(t *testing.T, fake *surface.Fake, title string) int64 {
	t.Helper()
	id, err := fake.SendCard(context.Background(), testNotifyChannel, surface.Card{Title: title})
	if err != nil {
		t.Fatalf("seed card: %v", err)
	}
	return id
}

// seedThread opens a thread on an existing card and returns its id.
func seedThread(t *testing.T, fake *surface.Fake, messageID int64, name string) int64 {
	t.Helper()
	id, err := fake.CreateThread(context.Background(), testNotifyChannel, messageID, name)
	if err != nil {
		t.Fatalf("seed thread: %v", err)
	}
	return id
}
