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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/intakekit/relay/config"
	"github.com/intakekit/relay/internal/apierror"
	"github.com/intakekit/relay/model"
)

// Dispatch executes one user command against a tracked topic and returns the
// reply text for the invoker. The whole command runs under the topic's mutex,
// so a command and a webhook sync for the same topic never interleave.
func (l *Relay) Dispatch(ctx context.Context, cmd model.Command) (string, error) {
	ctx, span := tracer.Start(ctx, "Dispatching Command")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return "", err
	}

	lock := l.locks.acquire(cmd.TopicID)
	lock.Lock()
	defer lock.Unlock()

	record, err := l.datasource.GetApplication(ctx, cmd.TopicID)
	if err != nil {
		if isRecordNotFound(err) {
			return "", apierror.NewAPIError(apierror.ErrNotFound, "This topic is not tracked.", nil)
		}
		return "", err
	}
	if record.IsArchived() {
		return "", apierror.NewAPIError(apierror.ErrConflict, "This application has already been archived.", nil)
	}

	level := model.CapabilityFor(cmd.Actor.Roles, cnf.Chat.ClaimRoles, cnf.Chat.OverrideRoles)

	switch cmd.Type {
	case model.CommandClaim:
		if level < model.CapabilityClaim {
			return "", forbidden()
		}
		return l.claim(ctx, cnf, record, cmd.Actor)
	case model.CommandUnclaim:
		// The current handler may release their own claim; taking it off
		// someone else needs override capability.
		if level < model.CapabilityOverride &&
			!(level >= model.CapabilityClaim && record.ClaimedBy == cmd.Actor.UserID) {
			return "", forbidden()
		}
		return l.unclaim(ctx, record, cmd.Actor)
	case model.CommandReassign:
		if level < model.CapabilityOverride {
			return "", forbidden()
		}
		return l.reassign(ctx, record, cmd.Actor, cmd.Target)
	case model.CommandSetStage:
		if level < model.CapabilityClaim {
			return "", forbidden()
		}
		return l.setStage(ctx, cnf, record, cmd.Actor, cmd.StageTag)
	case model.CommandRename:
		if level < model.CapabilityClaim {
			return "", forbidden()
		}
		return l.rename(ctx, cnf, record, cmd.Actor, cmd.Title)
	}
	return "", apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("unknown command type %q", cmd.Type), nil)
}

func forbidden() error {
	return apierror.NewAPIError(apierror.ErrForbidden, "You do not have permission to do that.", nil)
}

// claim assigns the topic to the actor. The assignment is a single atomic
// database write, so two racing claims resolve to exactly one winner.
func (l *Relay) claim(ctx context.Context, cnf *config.Configuration, record *model.ApplicationRecord, actor model.Actor) (string, error) {
	won, err := l.datasource.TryClaim(ctx, record.TopicID, actor.UserID)
	if err != nil {
		return "", err
	}
	if !won {
		return "", apierror.NewAPIError(apierror.ErrConflict, "This application is already claimed.", nil)
	}
	record.ClaimedBy = actor.UserID

	if cnf.IsDryRun() {
		logrus.Infof("dry-run: claimed topic %d for %s, skipping surface updates", record.TopicID, actor.DisplayName())
		return "Claimed (dry-run).", nil
	}

	topic, err := l.forum.FetchTopic(ctx, record.TopicID)
	if err != nil {
		logrus.Warnf("claim recorded but topic %d fetch failed: %v", record.TopicID, err)
		return "Claimed, but the topic could not be fetched for display updates.", nil
	}

	if _, err := l.ensureThread(ctx, cnf, record, topic); err != nil {
		logrus.Warnf("could not open thread for topic %d: %v", record.TopicID, err)
	}
	if record.ThreadID != 0 {
		if err := l.surface.AddThreadMember(ctx, record.ThreadID, actor.UserID); err != nil {
			logrus.Warnf("failed to add %d to thread %d: %v", actor.UserID, record.ThreadID, err)
		}
	}

	message := fmt.Sprintf("Claimed by %s.", actor.DisplayName())
	l.announce(ctx, record, message)
	l.refreshSurfaces(ctx, cnf, record, topic)
	l.emitEvent(ctx, EventTopicClaimed, record.TopicID, actor, message)
	return "Claimed and thread opened.", nil
}

func (l *Relay) unclaim(ctx context.Context, record *model.ApplicationRecord, actor model.Actor) (string, error) {
	if !record.IsClaimed() {
		return "This application is not claimed.", nil
	}
	if err := l.datasource.ForceClaim(ctx, record.TopicID, 0); err != nil {
		return "", err
	}
	record.ClaimedBy = 0

	message := fmt.Sprintf("Claim released by %s.", actor.DisplayName())
	l.announce(ctx, record, message)
	l.resyncDisplay(ctx, record, actor)
	l.emitEvent(ctx, EventTopicUnclaimed, record.TopicID, actor, message)
	return "Claim released.", nil
}

func (l *Relay) reassign(ctx context.Context, record *model.ApplicationRecord, actor model.Actor, target int64) (string, error) {
	if target == 0 {
		return "", apierror.NewAPIError(apierror.ErrInvalidInput, "A target user is required.", nil)
	}
	if err := l.datasource.ForceClaim(ctx, record.TopicID, target); err != nil {
		return "", err
	}
	record.ClaimedBy = target

	if record.ThreadID != 0 {
		if err := l.surface.AddThreadMember(ctx, record.ThreadID, target); err != nil {
			logrus.Warnf("failed to add %d to thread %d: %v", target, record.ThreadID, err)
		}
	}
	message := fmt.Sprintf("Reassigned to <@%d> by %s.", target, actor.DisplayName())
	l.announce(ctx, record, message)
	l.resyncDisplay(ctx, record, actor)
	l.emitEvent(ctx, EventTopicReassigned, record.TopicID, actor, message)
	return fmt.Sprintf("Reassigned to <@%d>.", target), nil
}

// setStage writes a new stage tag to the forum and drives the resulting
// lifecycle transition directly. The write is remembered before it is sent,
// so the forum webhook it triggers is recognized as an echo and stays silent.
func (l *Relay) setStage(ctx context.Context, cnf *config.Configuration, record *model.ApplicationRecord, actor model.Actor, selection string) (string, error) {
	// The written tag set is derived from the current tags; a stale snapshot
	// would silently drop tags edited on the forum since the last render.
	l.forum.InvalidateTopic(ctx, record.TopicID)
	topic, err := l.forum.FetchTopic(ctx, record.TopicID)
	if err != nil {
		return "", err
	}

	var next []string
	rejecting := strings.EqualFold(selection, model.RejectSelection)
	if rejecting {
		// Rejection is not a forum tag. It clears the stage portion of the tag
		// set and schedules archival here.
		next = model.NonStageTags(topic.Tags)
	} else {
		tag := model.StageToTag(selection)
		if !model.IsStageTag(tag) {
			return "", apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unknown stage %q", selection), nil)
		}
		next = append(model.NonStageTags(topic.Tags), tag)
	}

	if cnf.IsDryRun() {
		logrus.Infof("dry-run: would set tags on topic %d to %s", record.TopicID, model.FormatTagList(next))
		return fmt.Sprintf("dry-run: tags would become %s", model.FormatTagList(next)), nil
	}

	// Remember the write before performing it. If the process dies in between,
	// the pending echo expires as a harmless suppressed announcement.
	if err := l.datasource.SetTagsLastWritten(ctx, record.TopicID, next, time.Now()); err != nil {
		return "", err
	}
	if err := l.forum.SetTopicTags(ctx, record.TopicID, next); err != nil {
		return "", err
	}

	wasAccepted := model.IsAccepted(topic.Tags)
	nowAccepted := model.IsAccepted(next)

	before := model.StageLabel(topic.Tags)
	after := model.StageLabel(next)
	if rejecting {
		after = "❌ Rejected"
	}
	message := fmt.Sprintf("Stage changed by %s: %s -> %s", actor.DisplayName(), before, after)
	l.announce(ctx, record, message)
	l.emitEvent(ctx, EventTopicStageChanged, record.TopicID, actor, message)

	switch {
	case rejecting:
		l.beginPendingArchive(ctx, record.TopicID, model.ArchiveStatusRejected, actor)
	case !wasAccepted && nowAccepted:
		l.beginPendingArchive(ctx, record.TopicID, model.ArchiveStatusAccepted, actor)
	case wasAccepted && !nowAccepted:
		l.cancelPendingArchive(ctx, record.TopicID, actor)
	}

	if err := l.syncTopicLocked(ctx, record.TopicID, actor); err != nil {
		logrus.Warnf("post-stage sync for topic %d failed: %v", record.TopicID, err)
	}
	if rejecting {
		return "Application rejected; archival scheduled.", nil
	}
	return fmt.Sprintf("Stage set to %s.", after), nil
}

// rename changes the topic title on the forum and carries the new name over
// to the card and thread.
func (l *Relay) rename(ctx context.Context, cnf *config.Configuration, record *model.ApplicationRecord, actor model.Actor, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", apierror.NewAPIError(apierror.ErrInvalidInput, "A new title is required.", nil)
	}

	if cnf.IsDryRun() {
		logrus.Infof("dry-run: would rename topic %d to %q", record.TopicID, title)
		return fmt.Sprintf("dry-run: title would become %q", title), nil
	}

	if err := l.forum.SetTopicTitle(ctx, record.TopicID, title); err != nil {
		return "", err
	}
	if err := l.datasource.SetTopicTitle(ctx, record.TopicID, title); err != nil {
		logrus.Error(err)
	}
	record.TopicTitle = title

	if record.ThreadID != 0 {
		name := threadName(title)
		if err := l.surface.RenameThread(ctx, record.ThreadID, name); err != nil {
			logrus.Warnf("failed to rename thread %d: %v", record.ThreadID, err)
		} else {
			record.ThreadNameHistory = append(record.ThreadNameHistory, name)
			if err := l.datasource.SetThreadNameHistory(ctx, record.TopicID, record.ThreadNameHistory); err != nil {
				logrus.Error(err)
			}
		}
	}

	message := fmt.Sprintf("Renamed to %q by %s.", title, actor.DisplayName())
	l.announce(ctx, record, message)
	l.resyncDisplay(ctx, record, actor)
	l.emitEvent(ctx, EventTopicRenamed, record.TopicID, actor, message)
	return "Title updated.", nil
}

// refreshSurfaces re-renders the card and control message from an already
// fetched snapshot.
func (l *Relay) refreshSurfaces(ctx context.Context, cnf *config.Configuration, record *model.ApplicationRecord, topic *model.Topic) {
	if cnf.IsDryRun() {
		return
	}
	if !record.MessageMissing {
		if err := l.surface.EditCard(ctx, record.ChannelID, record.MessageID, renderCard(topic, record.ClaimedBy, false)); err != nil {
			logrus.Warnf("failed to refresh card for topic %d: %v", record.TopicID, err)
		}
	}
	l.refreshControlMessage(ctx, record, topic)
}

// resyncDisplay runs a full sync pass after a command so the card reflects
// the change. The caller already holds the topic's mutex.
func (l *Relay) resyncDisplay(ctx context.Context, record *model.ApplicationRecord, actor model.Actor) {
	if err := l.syncTopicLocked(ctx, record.TopicID, actor); err != nil {
		logrus.Warnf("post-command sync for topic %d failed: %v", record.TopicID, err)
	}
}
