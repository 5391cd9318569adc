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

// Package forum talks to the Discourse instance that hosts application
// topics. It is the single writer of topic tags and titles, and the single
// reader of topic snapshots.
package forum

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/intakekit/relay/config"
	"github.com/intakekit/relay/internal/cache"
	"github.com/intakekit/relay/internal/request"
	"github.com/intakekit/relay/model"
)

// TopicSource reads and writes forum topics. Decision paths must call
// InvalidateTopic before FetchTopic; the cached snapshot is only safe for
// display renders.
type TopicSource interface {
	FetchTopic(ctx context.Context, topicID int64) (*model.Topic, error)
	InvalidateTopic(ctx context.Context, topicID int64)
	SetTopicTags(ctx context.Context, topicID int64, tags []string) error
	SetTopicTitle(ctx context.Context, topicID int64, title string) error
}

// Client is the Discourse-backed TopicSource. Snapshot reads go through a
// short-TTL cache so bursty webhook traffic does not hammer the forum.
type Client struct {
	baseURL string
	apiKey  string
	apiUser string
	cache   cache.Cache
	ttl     time.Duration
}

func NewClient(conf config.ForumConfig, topicCache cache.Cache) *Client {
	return &Client{
		baseURL: strings.TrimRight(conf.BaseUrl, "/"),
		apiKey:  conf.ApiKey,
		apiUser: conf.ApiUser,
		cache:   topicCache,
		ttl:     time.Duration(conf.TopicCacheTTLSeconds) * time.Second,
	}
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Api-Key", c.apiKey)
	}
	if c.apiUser != "" {
		req.Header.Set("Api-Username", c.apiUser)
	}
}

type forumUser struct {
	Username string `json:"username"`
	Name     string `json:"name"`
}

func (u *forumUser) displayName() string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return u.Username
	}
	return u.Name
}

type topicBody struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title"`
	Slug       string   `json:"slug"`
	CategoryID int      `json:"category_id"`
	Tags       []string `json:"tags"`
	CreatedBy  *forumUser `json:"created_by"`
	Details    *struct {
		CreatedBy *forumUser `json:"created_by"`
	} `json:"details"`
}

// topicEnvelope tolerates both response shapes Discourse serves: the topic
// either nested under a "topic" key or flattened at the top level.
type topicEnvelope struct {
	topicBody
	Topic      *topicBody `json:"topic"`
	PostStream *struct {
		Posts []forumUser `json:"posts"`
	} `json:"post_stream"`
}

func (e *topicEnvelope) body() *topicBody {
	if e.Topic != nil {
		return e.Topic
	}
	return &e.topicBody
}

// author resolves the topic author, falling back through the locations the
// forum is known to put it in.
func (e *topicEnvelope) author() string {
	body := e.body()
	if name := body.CreatedBy.displayName(); name != "" {
		return name
	}
	if body.Details != nil {
		if name := body.Details.CreatedBy.displayName(); name != "" {
			return name
		}
	}
	if e.PostStream != nil && len(e.PostStream.Posts) > 0 {
		first := e.PostStream.Posts[0]
		if name := first.displayName(); name != "" {
			return name
		}
	}
	return "Unknown"
}

func topicCacheKey(topicID int64) string {
	return fmt.Sprintf("forum:topic:%d", topicID)
}

// FetchTopic returns the current snapshot of a topic. Snapshots are cached
// for the configured TTL; call InvalidateTopic first when the read feeds a
// decision rather than a display render. A negative TTL disables the cache.
func (c *Client) FetchTopic(ctx context.Context, topicID int64) (*model.Topic, error) {
	if c.cache != nil && c.ttl > 0 {
		var cached model.Topic
		if err := c.cache.Get(ctx, topicCacheKey(topicID), &cached); err == nil && cached.ID != 0 {
			return &cached, nil
		}
	}

	var envelope topicEnvelope
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/t/%d.json", c.baseURL, topicID), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		c.setHeaders(req)

		envelope = topicEnvelope{}
		resp, err := request.Call(req, &envelope)
		if err != nil {
			return err
		}
		return retryableStatus(resp)
	}
	if err := backoff.Retry(operation, fetchBackoff(ctx)); err != nil {
		return nil, errors.Wrapf(err, "failed to fetch topic %d", topicID)
	}

	body := envelope.body()
	topic := &model.Topic{
		ID:         body.ID,
		Title:      body.Title,
		Slug:       body.Slug,
		CategoryID: body.CategoryID,
		Tags:       body.Tags,
		Author:     envelope.author(),
	}
	if topic.ID == 0 {
		topic.ID = topicID
	}
	if topic.Slug == "" {
		topic.Slug = fmt.Sprintf("%d", topicID)
	}
	if topic.Title == "" {
		topic.Title = fmt.Sprintf("Topic %d", topicID)
	}
	if topic.Tags == nil {
		topic.Tags = []string{}
	}
	topic.URL = fmt.Sprintf("%s/t/%s/%d", c.baseURL, topic.Slug, topic.ID)

	if c.cache != nil && c.ttl > 0 {
		if err := c.cache.Set(ctx, topicCacheKey(topicID), topic, c.ttl); err != nil {
			logrus.Warnf("failed to cache topic %d: %v", topicID, err)
		}
	}
	return topic, nil
}

// SetTopicTags replaces the topic's tag set. An empty set is written as an
// explicit empty tag array, which is how the forum clears tags.
func (c *Client) SetTopicTags(ctx context.Context, topicID int64, tags []string) error {
	if err := c.requireCredentials(); err != nil {
		return err
	}

	form := url.Values{}
	if len(tags) > 0 {
		form["tags[]"] = tags
	} else {
		form["tags[]"] = []string{""}
	}

	if err := c.putTopicForm(ctx, topicID, form); err != nil {
		return errors.Wrapf(err, "failed to set tags on topic %d", topicID)
	}
	c.InvalidateTopic(ctx, topicID)
	return nil
}

// SetTopicTitle renames the topic on the forum.
func (c *Client) SetTopicTitle(ctx context.Context, topicID int64, title string) error {
	if err := c.requireCredentials(); err != nil {
		return err
	}

	form := url.Values{"title": []string{title}}
	if err := c.putTopicForm(ctx, topicID, form); err != nil {
		return errors.Wrapf(err, "failed to set title on topic %d", topicID)
	}
	c.InvalidateTopic(ctx, topicID)
	return nil
}

// InvalidateTopic drops the cached snapshot so the next read sees the
// forum's current state.
func (c *Client) InvalidateTopic(ctx context.Context, topicID int64) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Delete(ctx, topicCacheKey(topicID)); err != nil {
		logrus.Warnf("failed to invalidate topic %d cache: %v", topicID, err)
	}
}

func (c *Client) requireCredentials() error {
	if c.apiKey == "" || c.apiUser == "" {
		return errors.New("forum API credentials missing")
	}
	return nil
}

func (c *Client) putTopicForm(ctx context.Context, topicID int64, form url.Values) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut,
			fmt.Sprintf("%s/t/%d.json", c.baseURL, topicID),
			strings.NewReader(form.Encode()))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		c.setHeaders(req)

		resp, err := request.Call(req, nil)
		if err != nil {
			return err
		}
		return retryableStatus(resp)
	}
	return backoff.Retry(operation, fetchBackoff(ctx))
}

// retryableStatus maps a response status to a retry decision. Server errors
// and rate limits retry, other failures do not.
func retryableStatus(resp *http.Response) error {
	if request.StatusOK(resp) {
		return nil
	}
	err := request.StatusError(resp)
	if resp != nil && (resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests) {
		return err
	}
	return backoff.Permanent(err)
}

func fetchBackoff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 15 * time.Second
	return backoff.WithContext(b, ctx)
}
