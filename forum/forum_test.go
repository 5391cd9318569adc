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
package forum

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intakekit/relay/config"
	"github.com/intakekit/relay/internal/cache"
)

func newTestClient() *Client {
	return NewClient(config.ForumConfig{
		BaseUrl: "https://forum.example.com",
		ApiKey:  "test-key",
		ApiUser: "relay-bot",
	}, nil)
}

func TestFetchTopicNestedShape(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://forum.example.com/t/42.json",
		httpmock.NewStringResponder(200, `{
			"topic": {
				"id": 42,
				"title": "Application - Tester",
				"slug": "application-tester",
				"category_id": 7,
				"tags": ["new-application"],
				"created_by": {"username": "tester"}
			}
		}`))

	topic, err := newTestClient().FetchTopic(context.Background(), 42)

	assert.NoError(t, err)
	assert.Equal(t, int64(42), topic.ID)
	assert.Equal(t, "Application - Tester", topic.Title)
	assert.Equal(t, 7, topic.CategoryID)
	assert.Equal(t, []string{"new-application"}, topic.Tags)
	assert.Equal(t, "tester", topic.Author)
	assert.Equal(t, "https://forum.example.com/t/application-tester/42", topic.URL)
}

func TestFetchTopicFlatShapeAuthorFromPostStream(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://forum.example.com/t/42.json",
		httpmock.NewStringResponder(200, `{
			"id": 42,
			"title": "Application - Tester",
			"slug": "application-tester",
			"category_id": 7,
			"tags": [],
			"post_stream": {"posts": [{"username": "first-poster"}]}
		}`))

	topic, err := newTestClient().FetchTopic(context.Background(), 42)

	assert.NoError(t, err)
	assert.Equal(t, "first-poster", topic.Author)
}

func TestFetchTopicDefaults(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://forum.example.com/t/42.json",
		httpmock.NewStringResponder(200, `{}`))

	topic, err := newTestClient().FetchTopic(context.Background(), 42)

	assert.NoError(t, err)
	assert.Equal(t, int64(42), topic.ID)
	assert.Equal(t, "Topic 42", topic.Title)
	assert.Equal(t, "Unknown", topic.Author)
	assert.Equal(t, "https://forum.example.com/t/42/42", topic.URL)
	assert.NotNil(t, topic.Tags)
}

func TestSetTopicTagsClearsWithEmptyArray(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var form url.Values
	httpmock.RegisterResponder("PUT", "https://forum.example.com/t/42.json",
		func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			form, _ = url.ParseQuery(string(body))
			return httpmock.NewStringResponse(200, `{}`), nil
		})

	err := newTestClient().SetTopicTags(context.Background(), 42, nil)

	assert.NoError(t, err)
	assert.Equal(t, []string{""}, form["tags[]"])
}

func TestSetTopicTags(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var form url.Values
	var apiKey string
	httpmock.RegisterResponder("PUT", "https://forum.example.com/t/42.json",
		func(req *http.Request) (*http.Response, error) {
			apiKey = req.Header.Get("Api-Key")
			body, _ := io.ReadAll(req.Body)
			form, _ = url.ParseQuery(string(body))
			return httpmock.NewStringResponse(200, `{}`), nil
		})

	err := newTestClient().SetTopicTags(context.Background(), 42, []string{"letter-sent"})

	assert.NoError(t, err)
	assert.Equal(t, []string{"letter-sent"}, form["tags[]"])
	assert.Equal(t, "test-key", apiKey)
}

func TestSetTopicTitleRequiresCredentials(t *testing.T) {
	client := NewClient(config.ForumConfig{BaseUrl: "https://forum.example.com"}, nil)

	err := client.SetTopicTitle(context.Background(), 42, "New Title")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "credentials")
}

func TestFetchTopicClientErrorDoesNotRetry(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://forum.example.com/t/42.json",
		httpmock.NewStringResponder(404, `{}`))

	_, err := newTestClient().FetchTopic(context.Background(), 42)

	assert.Error(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func newCachedTestClient(t *testing.T, ttlSeconds int) *Client {
	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{Redis: config.RedisConfig{Dns: mr.Addr()}})
	topicCache, err := cache.NewCache()
	require.NoError(t, err)

	return NewClient(config.ForumConfig{
		BaseUrl:              "https://forum.example.com",
		ApiKey:               "test-key",
		ApiUser:              "relay-bot",
		TopicCacheTTLSeconds: ttlSeconds,
	}, topicCache)
}

func registerTopicResponder(tags *[]string) {
	httpmock.RegisterResponder("GET", "https://forum.example.com/t/42.json",
		func(*http.Request) (*http.Response, error) {
			return httpmock.NewJsonResponse(200, map[string]interface{}{
				"topic": map[string]interface{}{
					"id": 42, "title": "Application - Tester", "slug": "application-tester",
					"tags": *tags, "created_by": map[string]interface{}{"username": "tester"},
				},
			})
		})
}

func TestFetchTopicServesSnapshotUntilInvalidated(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	client := newCachedTestClient(t, 300)
	tags := []string{"new-application"}
	registerTopicResponder(&tags)

	first, err := client.FetchTopic(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"new-application"}, first.Tags)

	tags = []string{"p-file"}

	stale, err := client.FetchTopic(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"new-application"}, stale.Tags, "within the TTL the snapshot is served")

	client.InvalidateTopic(context.Background(), 42)

	fresh, err := client.FetchTopic(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-file"}, fresh.Tags)
}

func TestFetchTopicNegativeTTLDisablesCache(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	client := newCachedTestClient(t, -1)
	tags := []string{"new-application"}
	registerTopicResponder(&tags)

	_, err := client.FetchTopic(context.Background(), 42)
	require.NoError(t, err)

	tags = []string{"p-file"}

	fresh, err := client.FetchTopic(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-file"}, fresh.Tags)
}
