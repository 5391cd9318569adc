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
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/intakekit/relay/config"
	"github.com/intakekit/relay/internal/apierror"
	"github.com/intakekit/relay/internal/notification"
	"github.com/intakekit/relay/model"
	"github.com/intakekit/relay/surface"
)

// maxThreadNameLen is the platform's thread name limit.
const maxThreadNameLen = 100

// lockRegistry holds one mutex per topic id, created on first use and kept
// for the process lifetime (or until the record is retired). With the mutex
// held, two concurrent triggers for the same topic run back-to-back, never
// interleaved; unrelated topics proceed in parallel.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[int64]*sync.Mutex)}
}

func (r *lockRegistry) acquire(topicID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[topicID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[topicID] = lock
	}
	return lock
}

// forget drops a topic's mutex after its record is retired.
func (r *lockRegistry) forget(topicID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks, topicID)
}

// SyncTopic makes the chat surface match the forum for one topic. The whole
// operation runs under the topic's mutex; callers may fire it concurrently.
func (l *Relay) SyncTopic(ctx context.Context, topicID int64, actor model.Actor) error {
	ctx, span := tracer.Start(ctx, "Synchronizing Topic")
	defer span.End()

	lock := l.locks.acquire(topicID)
	lock.Lock()
	defer lock.Unlock()

	return l.syncTopicLocked(ctx, topicID, actor)
}

func (l *Relay) syncTopicLocked(ctx context.Context, topicID int64, actor model.Actor) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	// The tag diff below decides transitions, so it must see the forum's
	// current tags, not a snapshot cached by an earlier display render.
	l.forum.InvalidateTopic(ctx, topicID)
	topic, err := l.forum.FetchTopic(ctx, topicID)
	if err != nil {
		notification.NotifyError(err)
		return err
	}
	if topic.CategoryID != cnf.TargetCategoryID() {
		return nil
	}

	record, err := l.datasource.GetApplication(ctx, topicID)
	if err != nil && !isRecordNotFound(err) {
		return err
	}
	if record != nil && record.IsArchived() {
		logrus.Debugf("ignoring sync for archived topic %d", topicID)
		return nil
	}

	_, channelID, err := cnf.TargetGuildAndChannel()
	if err != nil {
		if cnf.IsDryRun() {
			logrus.Infof("dry-run: %v", err)
			return nil
		}
		notification.NotifyError(err)
		return err
	}

	if record == nil {
		return l.createTopicRecord(ctx, cnf, channelID, topic)
	}
	return l.updateTopicRecord(ctx, cnf, record, topic, actor)
}

func (l *Relay) createTopicRecord(ctx context.Context, cnf *config.Configuration, channelID int64, topic *model.Topic) error {
	if cnf.IsDryRun() {
		logrus.Infof("dry-run: would post new card for topic %d title=%q", topic.ID, topic.Title)
		return nil
	}

	card := renderCard(topic, 0, false)
	card.Intro = "A new membership application has been submitted"
	messageID, err := l.surface.SendCard(ctx, channelID, card)
	if err != nil {
		notification.NotifyError(err)
		return err
	}

	record := &model.ApplicationRecord{
		TopicID:           topic.ID,
		ChannelID:         channelID,
		MessageID:         messageID,
		TagsLastSeen:      topic.Tags,
		TopicTitle:        topic.Title,
		TopicAuthor:       topic.Author,
		TopicSyncedAt:     time.Now(),
		ThreadNameHistory: []string{},
	}
	if _, err := l.datasource.CreateApplication(ctx, record); err != nil {
		return err
	}
	l.emitEvent(ctx, EventTopicCreated, topic.ID, model.Actor{}, fmt.Sprintf("Tracking new application %q by %s", topic.Title, topic.Author))

	// Thread creation is best effort; a guild without thread support still
	// gets the card.
	if _, err := l.ensureThread(ctx, cnf, record, topic); err != nil {
		logrus.Warnf("could not open thread for topic %d: %v", topic.ID, err)
	}

	if model.IsAccepted(topic.Tags) {
		l.beginPendingArchive(ctx, topic.ID, model.ArchiveStatusAccepted, model.Actor{})
	}
	return nil
}

func (l *Relay) updateTopicRecord(ctx context.Context, cnf *config.Configuration, record *model.ApplicationRecord, topic *model.Topic, actor model.Actor) error {
	previousTags := record.TagsLastSeen
	echo := len(record.TagsLastWritten) > 0 && model.SameTagSet(record.TagsLastWritten, topic.Tags)

	if cnf.IsDryRun() {
		logrus.Infof("dry-run: would edit card for topic %d message=%d", record.TopicID, record.MessageID)
	} else {
		card := renderCard(topic, record.ClaimedBy, false)
		err := l.surface.EditCard(ctx, record.ChannelID, record.MessageID, card)
		switch {
		case surface.IsNotFound(err):
			logrus.Warnf("card for topic %d is gone, flagging for reconciliation", record.TopicID)
			if dbErr := l.datasource.SetMessageMissing(ctx, record.TopicID, true); dbErr != nil {
				logrus.Error(dbErr)
			}
			record.MessageMissing = true
		case err != nil:
			logrus.Warnf("failed to edit card for topic %d: %v", record.TopicID, err)
		}
		l.refreshControlMessage(ctx, record, topic)
	}

	if err := l.datasource.SetTagsLastSeen(ctx, record.TopicID, topic.Tags); err != nil {
		return err
	}
	if err := l.datasource.SetTopicSnapshot(ctx, record.TopicID, topic.Title, topic.Author, time.Now()); err != nil {
		return err
	}

	tagsChanged := !model.SameTagSet(previousTags, topic.Tags)
	if echo {
		// Consume the echo so an identical change later on is announced.
		if err := l.datasource.SetTagsLastWritten(ctx, record.TopicID, nil, time.Time{}); err != nil {
			logrus.Error(err)
		}
	}
	if !tagsChanged || echo {
		return nil
	}

	before := model.StageLabel(previousTags)
	after := model.StageLabel(topic.Tags)
	message := fmt.Sprintf("Stage changed by %s: %s -> %s", actor.DisplayName(), before, after)
	l.announce(ctx, record, message)
	l.emitEvent(ctx, EventTopicStageChanged, record.TopicID, actor, message)

	wasAccepted := model.IsAccepted(previousTags)
	nowAccepted := model.IsAccepted(topic.Tags)
	switch {
	case !wasAccepted && nowAccepted:
		l.beginPendingArchive(ctx, record.TopicID, model.ArchiveStatusAccepted, actor)
	case wasAccepted && !nowAccepted:
		l.cancelPendingArchive(ctx, record.TopicID, actor)
	}
	return nil
}

// ensureThread returns the topic's discussion thread, creating it on first
// use. New threads get a pinned control message and their name recorded into
// the record's name history.
func (l *Relay) ensureThread(ctx context.Context, cnf *config.Configuration, record *model.ApplicationRecord, topic *model.Topic) (int64, error) {
	if record.ThreadID != 0 {
		return record.ThreadID, nil
	}
	if cnf.IsDryRun() {
		logrus.Infof("dry-run: would open thread for topic %d", record.TopicID)
		return 0, nil
	}

	name := threadName(topic.Title)
	threadID, err := l.surface.CreateThread(ctx, record.ChannelID, record.MessageID, name)
	if err != nil {
		return 0, err
	}
	if err := l.datasource.SetThreadID(ctx, record.TopicID, threadID); err != nil {
		return 0, err
	}
	record.ThreadID = threadID

	record.ThreadNameHistory = append(record.ThreadNameHistory, name)
	if err := l.datasource.SetThreadNameHistory(ctx, record.TopicID, record.ThreadNameHistory); err != nil {
		logrus.Error(err)
	}

	content := controlContent(cnf, record, topic)
	messageID, err := l.surface.SendMessage(ctx, threadID, content)
	if err != nil {
		logrus.Warnf("failed to post control message in thread %d: %v", threadID, err)
		return threadID, nil
	}
	if err := l.surface.PinMessage(ctx, threadID, messageID); err != nil {
		logrus.Warnf("failed to pin control message %d: %v", messageID, err)
	}
	if err := l.datasource.SetControlMessageID(ctx, record.TopicID, messageID); err != nil {
		logrus.Error(err)
	}
	record.ControlMessageID = messageID
	return threadID, nil
}

// refreshControlMessage re-renders the pinned control message. A missing
// control message is cleared and lazily recreated by the next
// stage-affecting action.
func (l *Relay) refreshControlMessage(ctx context.Context, record *model.ApplicationRecord, topic *model.Topic) {
	if record.ThreadID == 0 || record.ControlMessageID == 0 {
		return
	}
	cnf, err := config.Fetch()
	if err != nil {
		return
	}
	err = l.surface.EditMessage(ctx, record.ThreadID, record.ControlMessageID, controlContent(cnf, record, topic))
	if surface.IsNotFound(err) {
		logrus.Warnf("control message for topic %d is gone, clearing", record.TopicID)
		if dbErr := l.datasource.SetControlMessageID(ctx, record.TopicID, 0); dbErr != nil {
			logrus.Error(dbErr)
		}
		record.ControlMessageID = 0
	} else if err != nil {
		logrus.Warnf("failed to edit control message for topic %d: %v", record.TopicID, err)
	}
}

// announce posts a human-readable entry to the topic's thread, best effort.
func (l *Relay) announce(ctx context.Context, record *model.ApplicationRecord, message string) {
	cnf, err := config.Fetch()
	if err != nil {
		return
	}
	if cnf.IsDryRun() {
		logrus.Infof("dry-run: would announce on topic %d: %s", record.TopicID, message)
		return
	}
	if record.ThreadID == 0 {
		return
	}
	if _, err := l.surface.SendMessage(ctx, record.ThreadID, message); err != nil {
		logrus.Warnf("failed to announce on thread %d: %v", record.ThreadID, err)
	}
}

func renderCard(topic *model.Topic, claimedBy int64, archived bool) surface.Card {
	owner := ""
	if claimedBy != 0 {
		owner = fmt.Sprintf("<@%d>", claimedBy)
	}
	return surface.Card{
		Title:      topic.Title,
		URL:        topic.URL,
		Author:     topic.Author,
		StageLabel: model.StageLabel(topic.Tags),
		Owner:      owner,
		Archived:   archived,
	}
}

func controlContent(cnf *config.Configuration, record *model.ApplicationRecord, topic *model.Topic) string {
	owner := "Unassigned"
	if record.ClaimedBy != 0 {
		owner = fmt.Sprintf("<@%d>", record.ClaimedBy)
	}
	content := fmt.Sprintf("Handler: %s\nTopic: %s\nTags: %s",
		owner, topic.URL, model.FormatTagList(model.DisplayTags(topic.Tags)))
	if len(cnf.Chat.ThreadAutoAddRoles) > 0 {
		mentions := make([]string, 0, len(cnf.Chat.ThreadAutoAddRoles))
		for _, role := range cnf.Chat.ThreadAutoAddRoles {
			mentions = append(mentions, "@"+role)
		}
		content += "\ncc " + strings.Join(mentions, " ")
	}
	return content
}

func threadName(topicTitle string) string {
	name := strings.TrimSpace(fmt.Sprintf("Application - %s", topicTitle))
	runes := []rune(name)
	if len(runes) > maxThreadNameLen {
		return string(runes[:maxThreadNameLen])
	}
	return name
}

func isRecordNotFound(err error) bool {
	apiErr, ok := err.(apierror.APIError)
	return ok && apiErr.Code == apierror.ErrNotFound
}
