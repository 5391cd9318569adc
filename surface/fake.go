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

package surface

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/intakekit/relay/model"
)

// FakeMessage is one message held by the in-memory surface.
type FakeMessage struct {
	ID        int64
	ChannelID int64
	Content   string
	Card      *Card
	Pinned    bool
	SentAt    time.Time
}

// FakeThread is one thread held by the in-memory surface.
type FakeThread struct {
	ID        int64
	ChannelID int64
	MessageID int64
	Name      string
	Locked    bool
	Members   []int64
}

// Fake is an in-memory Surface for tests. All operations are safe for
// concurrent use.
type Fake struct {
	mu      sync.Mutex
	nextID  int64
	message map[int64]*FakeMessage
	thread  map[int64]*FakeThread
	actor   map[int64]model.Actor

	// FailCreateThread makes CreateThread return an error, simulating a
	// guild where threads cannot be opened.
	FailCreateThread bool
}

func NewFake() *Fake {
	return &Fake{
		nextID:  1000,
		message: make(map[int64]*FakeMessage),
		thread:  make(map[int64]*FakeThread),
		actor:   make(map[int64]model.Actor),
	}
}

func (f *Fake) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *Fake) SendCard(ctx context.Context, channelID int64, card Card) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id()
	c := card
	f.message[id] = &FakeMessage{ID: id, ChannelID: channelID, Content: card.Intro, Card: &c, SentAt: time.Now()}
	return id, nil
}

func (f *Fake) EditCard(ctx context.Context, channelID, messageID int64, card Card) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.message[messageID]
	if !ok {
		return fmt.Errorf("edit card %d: %w", messageID, ErrNotFound)
	}
	c := card
	msg.Card = &c
	return nil
}

func (f *Fake) DeleteMessage(ctx context.Context, channelID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.message[messageID]; !ok {
		return fmt.Errorf("delete message %d: %w", messageID, ErrNotFound)
	}
	delete(f.message, messageID)
	return nil
}

func (f *Fake) MessageExists(ctx context.Context, channelID, messageID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.message[messageID]
	return ok, nil
}

func (f *Fake) SendMessage(ctx context.Context, channelID int64, content string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id()
	f.message[id] = &FakeMessage{ID: id, ChannelID: channelID, Content: content, SentAt: time.Now()}
	return id, nil
}

func (f *Fake) EditMessage(ctx context.Context, channelID, messageID int64, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.message[messageID]
	if !ok {
		return fmt.Errorf("edit message %d: %w", messageID, ErrNotFound)
	}
	msg.Content = content
	return nil
}

func (f *Fake) PinMessage(ctx context.Context, channelID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.message[messageID]
	if !ok {
		return fmt.Errorf("pin message %d: %w", messageID, ErrNotFound)
	}
	msg.Pinned = true
	return nil
}

func (f *Fake) CreateThread(ctx context.Context, channelID, messageID int64, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreateThread {
		return 0, fmt.Errorf("thread creation unavailable")
	}
	if _, ok := f.message[messageID]; !ok {
		return 0, fmt.Errorf("create thread on %d: %w", messageID, ErrNotFound)
	}
	id := f.id()
	f.thread[id] = &FakeThread{ID: id, ChannelID: channelID, MessageID: messageID, Name: name}
	return id, nil
}

func (f *Fake) RenameThread(ctx context.Context, threadID int64, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	th, ok := f.thread[threadID]
	if !ok {
		return fmt.Errorf("rename thread %d: %w", threadID, ErrNotFound)
	}
	th.Name = name
	return nil
}

func (f *Fake) LockThread(ctx context.Context, threadID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	th, ok := f.thread[threadID]
	if !ok {
		return fmt.Errorf("lock thread %d: %w", threadID, ErrNotFound)
	}
	th.Locked = true
	return nil
}

func (f *Fake) DeleteThread(ctx context.Context, threadID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.thread[threadID]; !ok {
		return fmt.Errorf("delete thread %d: %w", threadID, ErrNotFound)
	}
	delete(f.thread, threadID)
	return nil
}

func (f *Fake) ThreadExists(ctx context.Context, threadID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.thread[threadID]
	return ok, nil
}

func (f *Fake) AddThreadMember(ctx context.Context, threadID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	th, ok := f.thread[threadID]
	if !ok {
		return fmt.Errorf("add member to thread %d: %w", threadID, ErrNotFound)
	}
	th.Members = append(th.Members, userID)
	return nil
}

func (f *Fake) ListActiveThreads(ctx context.Context, guildID int64) ([]Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	threads := make([]Thread, 0, len(f.thread))
	for _, th := range f.thread {
		threads = append(threads, Thread{ID: th.ID, Name: th.Name})
	}
	return threads, nil
}

func (f *Fake) FetchMessages(ctx context.Context, channelID int64, limit int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	messages := []Message{}
	for _, msg := range f.sortedByID() {
		if msg.ChannelID != channelID {
			continue
		}
		messages = append(messages, Message{AuthorName: "user", Content: msg.Content, SentAt: msg.SentAt})
	}
	return messages, nil
}

// sortedByID returns all messages in creation order. Callers hold f.mu.
func (f *Fake) sortedByID() []*FakeMessage {
	out := make([]*FakeMessage, 0, len(f.message))
	for _, msg := range f.message {
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *Fake) DeletionActor(ctx context.Context, guildID, targetID int64, actionType int) (model.Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.actor[targetID], nil
}

// Test helpers below. They are not part of the Surface interface.

// SetDeletionActor records an audit attribution for a target id.
func (f *Fake) SetDeletionActor(targetID int64, actor model.Actor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actor[targetID] = actor
}

// RemoveMessage simulates an out-of-band deletion.
func (f *Fake) RemoveMessage(messageID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.message, messageID)
}

// RemoveThread simulates an out-of-band thread deletion.
func (f *Fake) RemoveThread(threadID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.thread, threadID)
}

// CardFor returns the current card for a message id, or nil.
func (f *Fake) CardFor(messageID int64) *Card {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.message[messageID]
	if !ok || msg.Card == nil {
		return nil
	}
	c := *msg.Card
	return &c
}

// MessagesIn returns the contents of all plain messages in a channel, in
// creation order.
func (f *Fake) MessagesIn(channelID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []string{}
	for _, msg := range f.sortedByID() {
		if msg.ChannelID == channelID && msg.Card == nil {
			out = append(out, msg.Content)
		}
	}
	return out
}

// ThreadFor returns the thread a message anchors, or nil.
func (f *Fake) ThreadFor(messageID int64) *FakeThread {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, th := range f.thread {
		if th.MessageID == messageID {
			copied := *th
			return &copied
		}
	}
	return nil
}

// ThreadByID returns a thread by id, or nil.
func (f *Fake) ThreadByID(threadID int64) *FakeThread {
	f.mu.Lock()
	defer f.mu.Unlock()
	th, ok := f.thread[threadID]
	if !ok {
		return nil
	}
	copied := *th
	return &copied
}
