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

package model

import (
	"strings"
	"time"
)

// Archive status values for an ApplicationRecord. Empty means no terminal
// outcome has been reached yet.
const (
	ArchiveStatusNone     = ""
	ArchiveStatusAccepted = "accepted"
	ArchiveStatusRejected = "rejected"
)

// ApplicationRecord is the persisted state for one tracked forum topic: the
// unit of synchronization between the forum and the chat surface.
type ApplicationRecord struct {
	TopicID           int64     `json:"topic_id"`
	ChannelID         int64     `json:"channel_id"`
	MessageID         int64     `json:"message_id"`
	MessageMissing    bool      `json:"message_missing"`
	ThreadID          int64     `json:"thread_id,omitempty"`
	ControlMessageID  int64     `json:"control_message_id,omitempty"`
	ClaimedBy         int64     `json:"claimed_by,omitempty"`
	TagsLastSeen      []string  `json:"tags_last_seen"`
	TagsLastWritten   []string  `json:"tags_last_written,omitempty"`
	TagsWrittenAt     time.Time `json:"tags_written_at,omitempty"`
	TopicTitle        string    `json:"topic_title,omitempty"`
	TopicAuthor       string    `json:"topic_author,omitempty"`
	TopicSyncedAt     time.Time `json:"topic_synced_at,omitempty"`
	ThreadNameHistory []string  `json:"thread_name_history,omitempty"`

	AcceptedAt         time.Time `json:"accepted_at,omitempty"`
	ArchiveStatus      string    `json:"archive_status,omitempty"`
	ArchiveScheduledAt time.Time `json:"archive_scheduled_at,omitempty"`
	ArchivedAt         time.Time `json:"archived_at,omitempty"`
	ArchiveInProgress  bool      `json:"archive_in_progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsArchived reports whether the record is terminal. Archived records accept
// no further synchronization, stage changes or scheduling.
func (r *ApplicationRecord) IsArchived() bool {
	return !r.ArchivedAt.IsZero()
}

// IsClaimed reports whether the topic currently has an owner.
func (r *ApplicationRecord) IsClaimed() bool {
	return r.ClaimedBy != 0
}

// HasPendingArchive reports whether a due time for archival has been persisted
// and the record has not been archived yet.
func (r *ApplicationRecord) HasPendingArchive() bool {
	return !r.ArchiveScheduledAt.IsZero() && r.ArchivedAt.IsZero()
}

// Topic is a point-in-time snapshot of the externally owned forum topic.
type Topic struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title"`
	Slug       string   `json:"slug"`
	URL        string   `json:"url"`
	CategoryID int      `json:"category_id"`
	Tags       []string `json:"tags"`
	Author     string   `json:"author"`
}

// Actor identifies who caused an operation, with the role names used for
// capability checks. A zero Actor renders as "Unknown".
type Actor struct {
	UserID int64    `json:"user_id"`
	Name   string   `json:"name"`
	Roles  []string `json:"roles,omitempty"`
}

func (a Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return "Unknown"
}

// CapabilityLevel is the result of the role-based capability check.
type CapabilityLevel int

const (
	CapabilityNone CapabilityLevel = iota
	CapabilityClaim
	CapabilityOverride
)

// CapabilityFor computes the capability level from an actor's role names.
// Override roles imply claim capability; matching is case-insensitive on the
// configured role name sets.
func CapabilityFor(roleNames, claimRoles, overrideRoles []string) CapabilityLevel {
	level := CapabilityNone
	claim := lowerSet(claimRoles)
	override := lowerSet(overrideRoles)
	for _, name := range roleNames {
		n := strings.ToLower(name)
		if _, ok := override[n]; ok {
			return CapabilityOverride
		}
		if _, ok := claim[n]; ok {
			level = CapabilityClaim
		}
	}
	return level
}

func lowerSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = struct{}{}
	}
	return set
}

// Command types produced by the presentation layer. The engine only ever sees
// these variants, never raw UI callbacks.
const (
	CommandClaim    = "claim"
	CommandUnclaim  = "unclaim"
	CommandReassign = "reassign"
	CommandSetStage = "set_stage"
	CommandRename   = "rename"
)

// Command is the tagged-variant instruction dispatched to the engine. Target,
// StageTag and Title are only meaningful for their respective types.
type Command struct {
	Type     string `json:"type"`
	TopicID  int64  `json:"topic_id"`
	Actor    Actor  `json:"actor"`
	Target   int64  `json:"target,omitempty"`    // reassign: the new owner
	StageTag string `json:"stage_tag,omitempty"` // set_stage: the stage tag, or RejectSelection
	Title    string `json:"title,omitempty"`     // rename: the new topic title
}
