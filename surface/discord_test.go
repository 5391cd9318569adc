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
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"

	"github.com/intakekit/relay/config"
)

const testAPI = "https://chat.example.com/api/v10"

func newTestDiscord() *DiscordClient {
	return NewDiscordClient(config.ChatConfig{ApiUrl: testAPI, BotToken: "test-token"})
}

func TestSendCard(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var payload messagePayload
	var auth string
	httpmock.RegisterResponder("POST", testAPI+"/channels/100/messages",
		func(req *http.Request) (*http.Response, error) {
			auth = req.Header.Get("Authorization")
			_ = json.NewDecoder(req.Body).Decode(&payload)
			return httpmock.NewStringResponse(200, `{"id": "200"}`), nil
		})

	id, err := newTestDiscord().SendCard(context.Background(), 100, Card{
		Title:      "Application - Tester",
		URL:        "https://forum.example.com/t/application-tester/42",
		Author:     "tester",
		StageLabel: "🔷 New Application",
		Intro:      "A new application has been submitted",
	})

	assert.NoError(t, err)
	assert.Equal(t, int64(200), id)
	assert.Equal(t, "Bot test-token", auth)
	assert.Equal(t, "A new application has been submitted", payload.Content)
	if assert.Len(t, payload.Embeds, 1) {
		assert.Equal(t, "📄 Application - Tester", payload.Embeds[0].Title)
		assert.Equal(t, "Submitted by **tester**", payload.Embeds[0].Description)
		assert.Equal(t, "⚠️ Unassigned", payload.Embeds[0].Fields[1].Value)
	}
}

func TestMessageExists(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", testAPI+"/channels/100/messages/200",
		httpmock.NewStringResponder(200, `{"id": "200"}`))
	httpmock.RegisterResponder("GET", testAPI+"/channels/100/messages/201",
		httpmock.NewStringResponder(404, `{"message": "Unknown Message", "code": 10008}`))

	client := newTestDiscord()

	exists, err := client.MessageExists(context.Background(), 100, 200)
	assert.NoError(t, err)
	assert.True(t, exists)

	exists, err = client.MessageExists(context.Background(), 100, 201)
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestDeleteMessageNotFound(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("DELETE", testAPI+"/channels/100/messages/200",
		httpmock.NewStringResponder(404, `{"message": "Unknown Message", "code": 10008}`))

	err := newTestDiscord().DeleteMessage(context.Background(), 100, 200)

	assert.True(t, IsNotFound(err))
}

func TestCreateThreadFallsBackOnArchiveDuration(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var durations []int
	httpmock.RegisterResponder("POST", testAPI+"/channels/100/messages/200/threads",
		func(req *http.Request) (*http.Response, error) {
			var payload struct {
				Name                string `json:"name"`
				AutoArchiveDuration int    `json:"auto_archive_duration"`
			}
			_ = json.NewDecoder(req.Body).Decode(&payload)
			durations = append(durations, payload.AutoArchiveDuration)
			if payload.AutoArchiveDuration > 1440 {
				return httpmock.NewStringResponse(400, `{"message": "Invalid duration"}`), nil
			}
			return httpmock.NewStringResponse(201, `{"id": "300"}`), nil
		})

	id, err := newTestDiscord().CreateThread(context.Background(), 100, 200, "Application - Tester")

	assert.NoError(t, err)
	assert.Equal(t, int64(300), id)
	assert.Equal(t, []int{10080, 4320, 1440}, durations)
}

func TestFetchMessagesReversesOrder(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", testAPI+"/channels/300/messages?limit=50",
		httpmock.NewStringResponder(200, `[
			{"content": "second", "author": {"username": "b"}, "timestamp": "2026-08-30T12:01:00Z"},
			{"content": "first", "author": {"username": "a"}, "timestamp": "2026-08-30T12:00:00Z"}
		]`))

	messages, err := newTestDiscord().FetchMessages(context.Background(), 300, 50)

	assert.NoError(t, err)
	if assert.Len(t, messages, 2) {
		assert.Equal(t, "first", messages[0].Content)
		assert.Equal(t, "a", messages[0].AuthorName)
		assert.Equal(t, "second", messages[1].Content)
	}
}

func TestDeletionActorMatchesRecentEntry(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	// A snowflake whose embedded timestamp is now.
	recent := (time.Now().UnixMilli() - snowflakeEpoch) << 22
	httpmock.RegisterResponder("GET", testAPI+"/guilds/1/audit-logs?action_type=72&limit=50",
		httpmock.NewStringResponder(200, fmt.Sprintf(`{
			"audit_log_entries": [
				{"id": "%d", "user_id": "900", "target_id": "200"}
			],
			"users": [{"id": "900", "username": "moderator"}]
		}`, recent)))

	actor, err := newTestDiscord().DeletionActor(context.Background(), 1, 200, AuditMessageDelete)

	assert.NoError(t, err)
	assert.Equal(t, int64(900), actor.UserID)
	assert.Equal(t, "moderator", actor.Name)
}

func TestDeletionActorIgnoresStaleEntry(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	stale := (time.Now().Add(-time.Hour).UnixMilli() - snowflakeEpoch) << 22
	httpmock.RegisterResponder("GET", testAPI+"/guilds/1/audit-logs?action_type=72&limit=50",
		httpmock.NewStringResponder(200, fmt.Sprintf(`{
			"audit_log_entries": [
				{"id": "%d", "user_id": "900", "target_id": "200"}
			],
			"users": [{"id": "900", "username": "moderator"}]
		}`, stale)))

	actor, err := newTestDiscord().DeletionActor(context.Background(), 1, 200, AuditMessageDelete)

	assert.NoError(t, err)
	assert.Equal(t, int64(0), actor.UserID)
}
