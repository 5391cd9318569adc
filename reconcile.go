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

	"github.com/sirupsen/logrus"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/intakekit/relay/config"
	"github.com/intakekit/relay/model"
	"github.com/intakekit/relay/surface"
)

// staleThreadMaxDistance is how far a stray thread's name may drift from a
// recorded name and still be treated as ours. Covers the platform trimming or
// deduplicating thread names.
const staleThreadMaxDistance = 3

// ReconcileAll is the startup sweep: it verifies every open record's card and
// thread still exist, repairs the flags for what is merely missing, and
// retires records whose chat presence is entirely gone. It also removes stray
// threads that match a record's name history but are no longer referenced.
func (l *Relay) ReconcileAll(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Reconciling Records")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return err
	}
	guildID, _, err := cnf.TargetGuildAndChannel()
	if err != nil {
		return err
	}

	records, err := l.datasource.GetOpenApplications(ctx)
	if err != nil {
		return err
	}
	for _, record := range records {
		if err := l.reconcileRecord(ctx, cnf, guildID, record); err != nil {
			logrus.Errorf("reconciliation of topic %d failed: %v", record.TopicID, err)
		}
	}

	if err := l.sweepStaleThreads(ctx, cnf, guildID, records); err != nil {
		logrus.Errorf("stale thread sweep failed: %v", err)
	}
	return nil
}

func (l *Relay) reconcileRecord(ctx context.Context, cnf *config.Configuration, guildID int64, record *model.ApplicationRecord) error {
	lock := l.locks.acquire(record.TopicID)
	lock.Lock()
	defer lock.Unlock()

	cardGone := record.MessageMissing
	if !cardGone {
		exists, err := l.surface.MessageExists(ctx, record.ChannelID, record.MessageID)
		if err != nil {
			return err
		}
		cardGone = !exists
		if cardGone {
			logrus.Warnf("card for topic %d disappeared while offline", record.TopicID)
			if err := l.datasource.SetMessageMissing(ctx, record.TopicID, true); err != nil {
				logrus.Error(err)
			}
			record.MessageMissing = true
		}
	}

	threadGone := record.ThreadID == 0
	if !threadGone {
		exists, err := l.surface.ThreadExists(ctx, record.ThreadID)
		if err != nil {
			return err
		}
		if !exists {
			logrus.Warnf("thread for topic %d disappeared while offline", record.TopicID)
			l.clearThread(ctx, record)
			threadGone = true
		}
	}

	if cardGone && threadGone {
		actor := l.deletionActor(ctx, guildID, record.MessageID, surface.AuditMessageDelete)
		return l.retire(ctx, record, actor, "card and thread both deleted")
	}
	return nil
}

// HandleMessageDeleted reacts to a message deletion event from the chat
// platform. The message may be a topic's card or a thread's control message;
// anything else is ignored.
func (l *Relay) HandleMessageDeleted(ctx context.Context, channelID, messageID int64) error {
	record, err := l.datasource.GetApplicationByMessageID(ctx, messageID)
	if err != nil && !isRecordNotFound(err) {
		return err
	}
	if record != nil {
		return l.handleCardDeleted(ctx, record)
	}

	record, err = l.datasource.GetApplicationByControlMessageID(ctx, messageID)
	if err != nil {
		if isRecordNotFound(err) {
			return nil
		}
		return err
	}
	return l.handleControlMessageDeleted(ctx, record)
}

// HandleThreadDeleted reacts to a thread deletion event. The record keeps
// tracking the topic; a later stage change lazily recreates the thread.
func (l *Relay) HandleThreadDeleted(ctx context.Context, threadID int64) error {
	record, err := l.datasource.GetApplicationByThreadID(ctx, threadID)
	if err != nil {
		if isRecordNotFound(err) {
			return nil
		}
		return err
	}

	lock := l.locks.acquire(record.TopicID)
	lock.Lock()
	defer lock.Unlock()

	cnf, err := config.Fetch()
	if err != nil {
		return err
	}
	guildID, _, err := cnf.TargetGuildAndChannel()
	if err != nil {
		return err
	}

	actor := l.deletionActor(ctx, guildID, threadID, surface.AuditThreadDelete)
	logrus.Warnf("thread %d for topic %d was deleted by %s", threadID, record.TopicID, actor.DisplayName())
	l.clearThread(ctx, record)

	if record.MessageMissing {
		return l.retire(ctx, record, actor, "thread deleted after card")
	}
	l.emitEvent(ctx, EventResourceDeleted, record.TopicID, actor,
		fmt.Sprintf("Discussion thread deleted by %s", actor.DisplayName()))
	return nil
}

func (l *Relay) handleCardDeleted(ctx context.Context, record *model.ApplicationRecord) error {
	lock := l.locks.acquire(record.TopicID)
	lock.Lock()
	defer lock.Unlock()

	cnf, err := config.Fetch()
	if err != nil {
		return err
	}
	guildID, _, err := cnf.TargetGuildAndChannel()
	if err != nil {
		return err
	}

	actor := l.deletionActor(ctx, guildID, record.MessageID, surface.AuditMessageDelete)
	logrus.Warnf("card for topic %d was deleted by %s", record.TopicID, actor.DisplayName())
	if err := l.datasource.SetMessageMissing(ctx, record.TopicID, true); err != nil {
		logrus.Error(err)
	}
	record.MessageMissing = true

	threadGone := record.ThreadID == 0
	if !threadGone {
		exists, err := l.surface.ThreadExists(ctx, record.ThreadID)
		if err == nil && !exists {
			l.clearThread(ctx, record)
			threadGone = true
		}
	}
	if threadGone {
		return l.retire(ctx, record, actor, "card deleted with no remaining thread")
	}

	l.announce(ctx, record, fmt.Sprintf("Notification card deleted by %s.", actor.DisplayName()))
	l.emitEvent(ctx, EventResourceDeleted, record.TopicID, actor,
		fmt.Sprintf("Notification card deleted by %s", actor.DisplayName()))
	return nil
}

func (l *Relay) handleControlMessageDeleted(ctx context.Context, record *model.ApplicationRecord) error {
	lock := l.locks.acquire(record.TopicID)
	lock.Lock()
	defer lock.Unlock()

	logrus.Infof("control message for topic %d was deleted, clearing", record.TopicID)
	controlID := record.ControlMessageID
	if err := l.datasource.SetControlMessageID(ctx, record.TopicID, 0); err != nil {
		return err
	}
	record.ControlMessageID = 0

	// With the card already gone this was the record's last surface; losing
	// it completes the retirement.
	if record.MessageMissing {
		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		guildID, _, err := cnf.TargetGuildAndChannel()
		if err != nil {
			return err
		}
		actor := l.deletionActor(ctx, guildID, controlID, surface.AuditMessageDelete)
		return l.retire(ctx, record, actor, "control message deleted after card")
	}
	return nil
}

// retire drops a record whose chat presence is entirely gone: the row, any
// pending archive task, and the topic's mutex.
func (l *Relay) retire(ctx context.Context, record *model.ApplicationRecord, actor model.Actor, reason string) error {
	logrus.Warnf("retiring topic %d: %s", record.TopicID, reason)
	if err := l.datasource.DeleteApplication(ctx, record.TopicID); err != nil {
		return err
	}
	if err := l.queue.cancelArchiveTask(record.TopicID); err != nil {
		logrus.Errorf("failed to cancel archive task for retired topic %d: %v", record.TopicID, err)
	}
	l.locks.forget(record.TopicID)
	l.emitEvent(ctx, EventRecordRetired, record.TopicID, actor,
		fmt.Sprintf("Record retired (%s)", reason))
	return nil
}

func (l *Relay) clearThread(ctx context.Context, record *model.ApplicationRecord) {
	if err := l.datasource.SetThreadID(ctx, record.TopicID, 0); err != nil {
		logrus.Error(err)
	}
	if err := l.datasource.SetControlMessageID(ctx, record.TopicID, 0); err != nil {
		logrus.Error(err)
	}
	record.ThreadID = 0
	record.ControlMessageID = 0
}

// deletionActor attributes a deletion from the platform audit log, best
// effort. Failures degrade to an unattributed actor.
func (l *Relay) deletionActor(ctx context.Context, guildID, targetID int64, actionType int) model.Actor {
	actor, err := l.surface.DeletionActor(ctx, guildID, targetID, actionType)
	if err != nil {
		logrus.Debugf("deletion attribution for %d failed: %v", targetID, err)
		return model.Actor{}
	}
	return actor
}

// sweepStaleThreads deletes active threads that look like ours but belong to
// no open record. These are left over when a record is retired out-of-band or
// a thread was recreated after a partial failure.
func (l *Relay) sweepStaleThreads(ctx context.Context, cnf *config.Configuration, guildID int64, records []*model.ApplicationRecord) error {
	threads, err := l.surface.ListActiveThreads(ctx, guildID)
	if err != nil {
		return err
	}

	owned := make(map[int64]struct{}, len(records))
	for _, record := range records {
		if record.ThreadID != 0 {
			owned[record.ThreadID] = struct{}{}
		}
	}

	for _, thread := range threads {
		if _, ok := owned[thread.ID]; ok {
			continue
		}
		if !l.matchesKnownThreadName(thread.Name, records) {
			continue
		}
		if cnf.IsDryRun() {
			logrus.Infof("dry-run: would delete stale thread %d %q", thread.ID, thread.Name)
			continue
		}
		logrus.Warnf("deleting stale thread %d %q", thread.ID, thread.Name)
		if err := l.surface.DeleteThread(ctx, thread.ID); err != nil && !surface.IsNotFound(err) {
			logrus.Errorf("failed to delete stale thread %d: %v", thread.ID, err)
		}
	}
	return nil
}

// matchesKnownThreadName reports whether a thread name matches any name a
// record's thread ever had, exactly or within a small edit distance.
func (l *Relay) matchesKnownThreadName(name string, records []*model.ApplicationRecord) bool {
	for _, record := range records {
		for _, known := range record.ThreadNameHistory {
			if strings.EqualFold(name, known) {
				return true
			}
			distance := levenshtein.DistanceForStrings([]rune(name), []rune(known), levenshtein.DefaultOptions)
			if distance <= staleThreadMaxDistance {
				return true
			}
		}
	}
	return false
}
