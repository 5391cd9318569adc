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
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/intakekit/relay/config"
	redlock "github.com/intakekit/relay/internal/lock"
	"github.com/intakekit/relay/internal/transcript"
	"github.com/intakekit/relay/model"
	"github.com/intakekit/relay/surface"
)

// archiveLockTTL bounds how long a worker may hold the cross-worker archive
// lock for one topic.
const archiveLockTTL = 5 * time.Minute

// beginPendingArchive moves a topic into the pending-archive state: persists
// the outcome and the absolute due time, then enqueues the delayed task. If a
// pending archive already exists the original due time is kept.
func (l *Relay) beginPendingArchive(ctx context.Context, topicID int64, status string, actor model.Actor) {
	cnf, err := config.Fetch()
	if err != nil {
		logrus.Error(err)
		return
	}
	record, err := l.datasource.GetApplication(ctx, topicID)
	if err != nil {
		logrus.Error(err)
		return
	}
	if record.IsArchived() {
		logrus.Debugf("not scheduling archive for archived topic %d", topicID)
		return
	}

	if status == model.ArchiveStatusAccepted && record.AcceptedAt.IsZero() {
		if err := l.datasource.MarkAccepted(ctx, topicID, time.Now()); err != nil {
			logrus.Error(err)
		}
	}
	if err := l.datasource.SetArchiveStatus(ctx, topicID, status); err != nil {
		logrus.Error(err)
		return
	}

	due := record.ArchiveScheduledAt
	if !record.HasPendingArchive() {
		due = time.Now().Add(time.Duration(cnf.Chat.ArchiveDelayMinutes) * time.Minute)
		if err := l.datasource.ScheduleArchive(ctx, topicID, due); err != nil {
			logrus.Error(err)
			return
		}
	}
	if err := l.queue.queueArchiveTask(ctx, topicID, due); err != nil {
		logrus.Errorf("failed to enqueue archive task for topic %d: %v", topicID, err)
	}

	var message string
	var event string
	if status == model.ArchiveStatusRejected {
		message = fmt.Sprintf("Application rejected by %s. Archiving in %d minutes; this can still be reverted until then.",
			actor.DisplayName(), cnf.Chat.ArchiveDelayMinutes)
		event = EventTopicRejected
	} else {
		message = fmt.Sprintf("Application accepted. Archiving in %d minutes; this can still be reverted until then.",
			cnf.Chat.ArchiveDelayMinutes)
		event = EventTopicAccepted
	}
	l.announce(ctx, record, message)
	l.emitEvent(ctx, event, topicID, actor, message)
}

// cancelPendingArchive reverts a pending archive after a reopen: clears the
// accepted markers and the due time and deletes the still-sleeping task.
func (l *Relay) cancelPendingArchive(ctx context.Context, topicID int64, actor model.Actor) {
	record, err := l.datasource.GetApplication(ctx, topicID)
	if err != nil {
		logrus.Error(err)
		return
	}
	if err := l.datasource.MarkAccepted(ctx, topicID, time.Time{}); err != nil {
		logrus.Error(err)
	}
	if err := l.datasource.SetArchiveStatus(ctx, topicID, model.ArchiveStatusNone); err != nil {
		logrus.Error(err)
	}
	if err := l.datasource.ScheduleArchive(ctx, topicID, time.Time{}); err != nil {
		logrus.Error(err)
	}
	if err := l.queue.cancelArchiveTask(topicID); err != nil {
		logrus.Errorf("failed to cancel archive task for topic %d: %v", topicID, err)
	}

	message := fmt.Sprintf("Application reopened by %s; pending archive cancelled.", actor.DisplayName())
	l.announce(ctx, record, message)
	l.emitEvent(ctx, EventTopicReopened, topicID, actor, message)
}

// RestoreAll re-enqueues the archive task for every non-archived record with
// a persisted due time. Past-due records fire immediately. This is the sole
// mechanism by which scheduled archival survives a restart.
func (l *Relay) RestoreAll(ctx context.Context) error {
	records, err := l.datasource.GetOpenApplications(ctx)
	if err != nil {
		return err
	}
	restored := 0
	for _, record := range records {
		// A crash between setting archive_in_progress and its deferred clear
		// would leave every requeued task hitting the in-progress early
		// return. The flag cannot legitimately outlive the cross-worker lock,
		// so anything older is a leftover from a dead run.
		if record.ArchiveInProgress && time.Since(record.UpdatedAt) > archiveLockTTL {
			logrus.Warnf("clearing stale archive_in_progress on topic %d", record.TopicID)
			if err := l.datasource.SetArchiveInProgress(ctx, record.TopicID, false); err != nil {
				logrus.Error(err)
			} else {
				record.ArchiveInProgress = false
			}
		}
		if record.ArchiveScheduledAt.IsZero() {
			continue
		}
		due := record.ArchiveScheduledAt
		if due.Before(time.Now()) {
			due = time.Now()
		}
		if err := l.queue.queueArchiveTask(ctx, record.TopicID, due); err != nil {
			logrus.Errorf("failed to restore archive task for topic %d: %v", record.TopicID, err)
			continue
		}
		restored++
	}
	if restored > 0 {
		logrus.Infof("restored %d pending archive task(s)", restored)
	}
	return nil
}

// ProcessArchiveTask handles one due archive task from the queue.
func (l *Relay) ProcessArchiveTask(ctx context.Context, task *asynq.Task) error {
	var payload archivePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.Errorf("malformed archive task payload: %v", err)
		return err
	}
	return l.ArchiveTopic(ctx, payload.TopicID)
}

// ArchiveTopic is the archival action: it seals a topic's chat presence into
// a permanent summary plus transcript and removes the live card and thread.
// It is idempotent against already-archived records and re-checks the
// terminal state before acting, so a stray task does no harm.
func (l *Relay) ArchiveTopic(ctx context.Context, topicID int64) error {
	ctx, span := tracer.Start(ctx, "Archiving Topic")
	defer span.End()

	lock := l.locks.acquire(topicID)
	lock.Lock()
	defer lock.Unlock()

	cnf, err := config.Fetch()
	if err != nil {
		return err
	}
	record, err := l.datasource.GetApplication(ctx, topicID)
	if err != nil {
		if isRecordNotFound(err) {
			return nil
		}
		return err
	}
	if record.IsArchived() {
		logrus.Debugf("topic %d already archived", topicID)
		return nil
	}

	// Safety net: the reopen path normally cancels the task, but re-check the
	// live tags anyway before sealing anything. A cached snapshot is not good
	// enough here.
	l.forum.InvalidateTopic(ctx, topicID)
	topic, err := l.forum.FetchTopic(ctx, topicID)
	if err != nil {
		return err
	}
	if record.ArchiveStatus != model.ArchiveStatusRejected && !model.IsAccepted(topic.Tags) {
		logrus.Infof("topic %d is no longer terminal, clearing scheduled archive", topicID)
		if err := l.datasource.ScheduleArchive(ctx, topicID, time.Time{}); err != nil {
			logrus.Error(err)
		}
		if err := l.datasource.SetArchiveStatus(ctx, topicID, model.ArchiveStatusNone); err != nil {
			logrus.Error(err)
		}
		return nil
	}

	if cnf.IsDryRun() {
		logrus.Infof("dry-run: would archive topic %d as %s", topicID, record.ArchiveStatus)
		return nil
	}

	if l.redis != nil {
		locker := redlock.NewLocker(l.redis, fmt.Sprintf("archive:%d", topicID), uuid.New().String())
		if err := locker.Lock(ctx, archiveLockTTL); err != nil {
			logrus.Infof("topic %d is being archived elsewhere: %v", topicID, err)
			return nil
		}
		defer func() {
			if err := locker.Unlock(context.Background()); err != nil {
				logrus.Warn(err)
			}
		}()
	}

	if record.ArchiveInProgress {
		logrus.Warnf("archival of topic %d already in progress, skipping", topicID)
		return nil
	}
	if err := l.datasource.SetArchiveInProgress(ctx, topicID, true); err != nil {
		return err
	}
	// Always cleared, so a partially failed archival can be revisited instead
	// of wedging the record.
	defer func() {
		if err := l.datasource.SetArchiveInProgress(context.Background(), topicID, false); err != nil {
			logrus.Error(err)
		}
	}()

	// Final rendered state on the live resources before they go away.
	if !record.MessageMissing {
		if err := l.surface.EditCard(ctx, record.ChannelID, record.MessageID, renderCard(topic, record.ClaimedBy, true)); err != nil {
			logrus.Warnf("failed to render final card for topic %d: %v", topicID, err)
		}
	}

	var transcriptKey string
	if record.ThreadID != 0 {
		messages, err := l.surface.FetchMessages(ctx, record.ThreadID, 100)
		if err != nil {
			logrus.Warnf("failed to fetch thread %d for transcript: %v", record.ThreadID, err)
		} else {
			body := transcript.Render(topicID, topic.Title, toTranscriptMessages(messages))
			key, err := transcript.Upload(ctx, topicID, body)
			if err != nil {
				logrus.Warnf("transcript upload for topic %d failed: %v", topicID, err)
			} else {
				transcriptKey = key
			}
		}
		if err := l.surface.LockThread(ctx, record.ThreadID); err != nil && !surface.IsNotFound(err) {
			logrus.Warnf("failed to lock thread %d: %v", record.ThreadID, err)
		}
	}

	summary := archiveSummary(record, topic, transcriptKey)
	if archiveChannel := cnf.TargetArchiveChannelID(); archiveChannel != 0 {
		// The summary must land before the live resources are deleted.
		if _, err := l.surface.SendMessage(ctx, archiveChannel, summary); err != nil {
			logrus.Errorf("failed to post archive summary for topic %d: %v", topicID, err)
			return err
		}
	}

	if record.ThreadID != 0 {
		if err := l.surface.DeleteThread(ctx, record.ThreadID); err != nil && !surface.IsNotFound(err) {
			logrus.Warnf("failed to delete thread %d: %v", record.ThreadID, err)
		}
	}
	if !record.MessageMissing {
		if err := l.surface.DeleteMessage(ctx, record.ChannelID, record.MessageID); err != nil && !surface.IsNotFound(err) {
			logrus.Warnf("failed to delete card %d: %v", record.MessageID, err)
		}
	}

	if err := l.datasource.MarkArchived(ctx, topicID, time.Now()); err != nil {
		return err
	}
	l.emitEvent(ctx, EventTopicArchived, topicID, model.Actor{}, summary)
	logrus.Infof("archived topic %d as %s", topicID, record.ArchiveStatus)
	return nil
}

func archiveSummary(record *model.ApplicationRecord, topic *model.Topic, transcriptKey string) string {
	outcome := "accepted"
	if record.ArchiveStatus == model.ArchiveStatusRejected {
		outcome = "rejected"
	}
	handler := "Unassigned"
	if record.ClaimedBy != 0 {
		handler = fmt.Sprintf("<@%d>", record.ClaimedBy)
	}
	summary := fmt.Sprintf("Application %q by %s archived as %s.\nTopic: %s\nHandler: %s\nFinal tags: %s",
		topic.Title, topic.Author, outcome, topic.URL, handler,
		model.FormatTagList(model.DisplayTags(topic.Tags)))
	if transcriptKey != "" {
		summary += "\nTranscript: " + transcriptKey
	}
	return summary
}

func toTranscriptMessages(messages []surface.Message) []transcript.Message {
	out := make([]transcript.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, transcript.Message{Author: m.AuthorName, Content: m.Content, SentAt: m.SentAt})
	}
	return out
}
