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
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/intakekit/relay/config"
	"github.com/intakekit/relay/internal/request"
	"github.com/intakekit/relay/model"
)

const cardColor = 0x940039

// Auto-archive durations in minutes, longest first. The platform has no way
// to disable auto-archive; prefer the maximum and fall back when the guild
// tier does not allow it.
var threadArchiveDurations = []int{10080, 4320, 1440}

// auditWindow bounds how far back a deletion is attributed to an audit entry.
const auditWindow = 15 * time.Minute

// Discord epoch, milliseconds.
const snowflakeEpoch = 1420070400000

// DiscordClient implements Surface over the Discord REST API.
type DiscordClient struct {
	baseURL string
	token   string
}

func NewDiscordClient(conf config.ChatConfig) *DiscordClient {
	return &DiscordClient{
		baseURL: conf.ApiUrl,
		token:   conf.BotToken,
	}
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embed struct {
	Title       string       `json:"title,omitempty"`
	URL         string       `json:"url,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
}

type messagePayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds,omitempty"`
}

type idResponse struct {
	ID string `json:"id"`
}

func renderEmbed(card Card) embed {
	title := "📄 New application"
	if card.Title != "" {
		title = "📄 " + card.Title
	}
	status := card.StageLabel
	if card.Archived {
		status = "🔒 " + status + " (archived)"
	}
	owner := card.Owner
	if owner == "" {
		owner = "⚠️ Unassigned"
	}
	return embed{
		Title:       title,
		URL:         card.URL,
		Description: fmt.Sprintf("Submitted by **%s**", card.Author),
		Color:       cardColor,
		Fields: []embedField{
			{Name: "Status", Value: status},
			{Name: "Owner", Value: owner},
		},
	}
}

func (c *DiscordClient) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var req *http.Request
	var err error
	if payload != nil {
		body, mErr := request.ToJsonReq(payload)
		if mErr != nil {
			return mErr
		}
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.token)

	resp, err := request.Call(req, out)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	return request.StatusError(resp)
}

func parseID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}

func (c *DiscordClient) SendCard(ctx context.Context, channelID int64, card Card) (int64, error) {
	var out idResponse
	payload := messagePayload{Content: card.Intro, Embeds: []embed{renderEmbed(card)}}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%d/messages", channelID), payload, &out); err != nil {
		return 0, err
	}
	return parseID(out.ID)
}

func (c *DiscordClient) EditCard(ctx context.Context, channelID, messageID int64, card Card) error {
	payload := messagePayload{Embeds: []embed{renderEmbed(card)}}
	return c.do(ctx, http.MethodPatch,
		fmt.Sprintf("/channels/%d/messages/%d", channelID, messageID), payload, nil)
}

func (c *DiscordClient) DeleteMessage(ctx context.Context, channelID, messageID int64) error {
	return c.do(ctx, http.MethodDelete,
		fmt.Sprintf("/channels/%d/messages/%d", channelID, messageID), nil, nil)
}

func (c *DiscordClient) MessageExists(ctx context.Context, channelID, messageID int64) (bool, error) {
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/channels/%d/messages/%d", channelID, messageID), nil, nil)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *DiscordClient) SendMessage(ctx context.Context, channelID int64, content string) (int64, error) {
	var out idResponse
	if err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/channels/%d/messages", channelID), messagePayload{Content: content}, &out); err != nil {
		return 0, err
	}
	return parseID(out.ID)
}

func (c *DiscordClient) EditMessage(ctx context.Context, channelID, messageID int64, content string) error {
	return c.do(ctx, http.MethodPatch,
		fmt.Sprintf("/channels/%d/messages/%d", channelID, messageID), messagePayload{Content: content}, nil)
}

func (c *DiscordClient) PinMessage(ctx context.Context, channelID, messageID int64) error {
	return c.do(ctx, http.MethodPut,
		fmt.Sprintf("/channels/%d/pins/%d", channelID, messageID), nil, nil)
}

// CreateThread starts a thread on a message, trying auto-archive durations
// from longest to shortest.
func (c *DiscordClient) CreateThread(ctx context.Context, channelID, messageID int64, name string) (int64, error) {
	var lastErr error
	for _, duration := range threadArchiveDurations {
		var out idResponse
		payload := struct {
			Name                string `json:"name"`
			AutoArchiveDuration int    `json:"auto_archive_duration"`
		}{Name: name, AutoArchiveDuration: duration}
		err := c.do(ctx, http.MethodPost,
			fmt.Sprintf("/channels/%d/messages/%d/threads", channelID, messageID), payload, &out)
		if err == nil {
			return parseID(out.ID)
		}
		if IsNotFound(err) {
			return 0, err
		}
		lastErr = err
	}
	return 0, lastErr
}

func (c *DiscordClient) RenameThread(ctx context.Context, threadID int64, name string) error {
	payload := struct {
		Name string `json:"name"`
	}{Name: name}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/channels/%d", threadID), payload, nil)
}

func (c *DiscordClient) LockThread(ctx context.Context, threadID int64) error {
	payload := struct {
		Locked   bool `json:"locked"`
		Archived bool `json:"archived"`
	}{Locked: true, Archived: true}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/channels/%d", threadID), payload, nil)
}

func (c *DiscordClient) DeleteThread(ctx context.Context, threadID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/channels/%d", threadID), nil, nil)
}

func (c *DiscordClient) ThreadExists(ctx context.Context, threadID int64) (bool, error) {
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/channels/%d", threadID), nil, nil)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *DiscordClient) AddThreadMember(ctx context.Context, threadID, userID int64) error {
	return c.do(ctx, http.MethodPut,
		fmt.Sprintf("/channels/%d/thread-members/%d", threadID, userID), nil, nil)
}

func (c *DiscordClient) ListActiveThreads(ctx context.Context, guildID int64) ([]Thread, error) {
	var out struct {
		Threads []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"threads"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/guilds/%d/threads/active", guildID), nil, &out); err != nil {
		return nil, err
	}
	threads := make([]Thread, 0, len(out.Threads))
	for _, t := range out.Threads {
		id, err := parseID(t.ID)
		if err != nil {
			logrus.Warnf("skipping thread with malformed id %q: %v", t.ID, err)
			continue
		}
		threads = append(threads, Thread{ID: id, Name: t.Name})
	}
	return threads, nil
}

func (c *DiscordClient) FetchMessages(ctx context.Context, channelID int64, limit int) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var out []struct {
		Content string `json:"content"`
		Author  struct {
			Username   string `json:"username"`
			GlobalName string `json:"global_name"`
		} `json:"author"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/channels/%d/messages?limit=%d", channelID, limit), nil, &out); err != nil {
		return nil, err
	}

	// The API returns newest first; transcripts read oldest first.
	messages := make([]Message, 0, len(out))
	for i := len(out) - 1; i >= 0; i-- {
		m := out[i]
		name := m.Author.GlobalName
		if name == "" {
			name = m.Author.Username
		}
		messages = append(messages, Message{AuthorName: name, Content: m.Content, SentAt: m.Timestamp})
	}
	return messages, nil
}

// DeletionActor scans the guild audit log for a recent entry matching the
// deleted resource. Entries older than the attribution window are ignored.
func (c *DiscordClient) DeletionActor(ctx context.Context, guildID, targetID int64, actionType int) (model.Actor, error) {
	var out struct {
		Entries []struct {
			ID       string `json:"id"`
			UserID   string `json:"user_id"`
			TargetID string `json:"target_id"`
		} `json:"audit_log_entries"`
		Users []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"users"`
	}
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/guilds/%d/audit-logs?action_type=%d&limit=50", guildID, actionType), nil, &out)
	if err != nil {
		return model.Actor{}, err
	}

	target := strconv.FormatInt(targetID, 10)
	for _, entry := range out.Entries {
		if entry.TargetID != target {
			continue
		}
		entryID, err := parseID(entry.ID)
		if err != nil {
			continue
		}
		if time.Since(snowflakeTime(entryID)) > auditWindow {
			continue
		}
		userID, err := parseID(entry.UserID)
		if err != nil {
			continue
		}
		actor := model.Actor{UserID: userID}
		for _, u := range out.Users {
			if u.ID == entry.UserID {
				actor.Name = u.Username
				break
			}
		}
		return actor, nil
	}
	return model.Actor{}, nil
}

// snowflakeTime extracts the creation time embedded in a platform id.
func snowflakeTime(id int64) time.Time {
	ms := (id >> 22) + snowflakeEpoch
	return time.UnixMilli(ms)
}
