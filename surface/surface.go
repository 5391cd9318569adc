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

// Package surface is the adapter over the chat platform that hosts the
// notification card, the discussion thread and the archive destination. The
// engine only sees the Surface interface; the Discord REST client and the
// in-memory fake both satisfy it.
package surface

import (
	"context"
	"errors"
	"time"

	"github.com/intakekit/relay/model"
)

// ErrNotFound marks a chat resource that no longer exists. Callers check it
// with errors.Is to route missing resources into reconciliation instead of
// treating them as failures.
var ErrNotFound = errors.New("chat resource not found")

// IsNotFound reports whether err means the underlying resource is gone.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Card is the rendered summary for one topic, shown as a single message on
// the notification channel.
type Card struct {
	Title      string
	URL        string
	Author     string
	StageLabel string
	Owner      string // owner mention, or empty for unassigned
	Intro      string // plain content above the embed, only on first post
	Archived   bool
}

// Message is one chat message, as much of it as transcripts need.
type Message struct {
	AuthorName string
	Content    string
	SentAt     time.Time
}

// Thread is a discussion thread reference used by reconciliation matching.
type Thread struct {
	ID   int64
	Name string
}

// Audit log action types for deletion attribution.
const (
	AuditMessageDelete = 72
	AuditChannelDelete = 12
	AuditThreadDelete  = 112
)

// Surface is everything the engine needs from the chat platform.
type Surface interface {
	// Card message lifecycle on the notification channel.
	SendCard(ctx context.Context, channelID int64, card Card) (int64, error)
	EditCard(ctx context.Context, channelID, messageID int64, card Card) error
	DeleteMessage(ctx context.Context, channelID, messageID int64) error
	MessageExists(ctx context.Context, channelID, messageID int64) (bool, error)

	// Plain messages: thread control messages and archive summaries.
	SendMessage(ctx context.Context, channelID int64, content string) (int64, error)
	EditMessage(ctx context.Context, channelID, messageID int64, content string) error
	PinMessage(ctx context.Context, channelID, messageID int64) error

	// Discussion thread lifecycle.
	CreateThread(ctx context.Context, channelID, messageID int64, name string) (int64, error)
	RenameThread(ctx context.Context, threadID int64, name string) error
	LockThread(ctx context.Context, threadID int64) error
	DeleteThread(ctx context.Context, threadID int64) error
	ThreadExists(ctx context.Context, threadID int64) (bool, error)
	AddThreadMember(ctx context.Context, threadID, userID int64) error
	ListActiveThreads(ctx context.Context, guildID int64) ([]Thread, error)

	// FetchMessages returns up to limit messages from a channel or thread,
	// oldest first, for transcript export.
	FetchMessages(ctx context.Context, channelID int64, limit int) ([]Message, error)

	// DeletionActor attributes a recent deletion of targetID from the
	// platform audit log. Best effort; a zero Actor and nil error means no
	// attribution was found.
	DeletionActor(ctx context.Context, guildID, targetID int64, actionType int) (model.Actor, error)
}
