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
package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/intakekit/relay/config"
	"github.com/intakekit/relay/model"
)

// signatureHeaders lists the header names the forum has used for its webhook
// signature, newest first.
var signatureHeaders = []string{
	"X-Discourse-Event-Signature-Sha256",
	"X-Discourse-Event-Signature",
	"X-Discourse-Signature",
}

// webhookPayload covers the topic id locations across the forum's webhook
// event types.
type webhookPayload struct {
	Topic *struct {
		ID      int64 `json:"id"`
		TopicID int64 `json:"topic_id"`
	} `json:"topic"`
	Post *struct {
		TopicID int64 `json:"topic_id"`
	} `json:"post"`
	TopicID int64 `json:"topic_id"`
	ID      int64 `json:"id"`
}

func (p *webhookPayload) topicID() int64 {
	if p.Topic != nil {
		if p.Topic.ID != 0 {
			return p.Topic.ID
		}
		if p.Topic.TopicID != 0 {
			return p.Topic.TopicID
		}
	}
	if p.Post != nil && p.Post.TopicID != 0 {
		return p.Post.TopicID
	}
	if p.TopicID != 0 {
		return p.TopicID
	}
	return p.ID
}

// ForumWebhook receives topic events from the forum. The request body is
// authenticated with an HMAC-SHA256 signature; any of the configured secrets
// may sign it, so secrets can be rotated without downtime.
func (a Api) ForumWebhook(c *gin.Context) {
	conf, err := config.Fetch()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read request body"})
		return
	}

	if !validSignature(c, body, conf.Forum.WebhookSecrets) {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid webhook signature"})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed webhook payload"})
		return
	}

	topicID := payload.topicID()
	if topicID == 0 {
		c.JSON(http.StatusOK, gin.H{"message": "Ignored (no topic id)"})
		return
	}

	if err := a.engine.SyncTopic(c.Request.Context(), topicID, model.Actor{}); err != nil {
		logrus.Errorf("webhook sync for topic %d failed: %v", topicID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Synchronized"})
}

// validSignature checks the request signature against every configured
// secret. With no secrets configured, unsigned requests are accepted; this is
// only sensible behind a trusted proxy and is logged as such.
func validSignature(c *gin.Context, body []byte, secrets []string) bool {
	if len(secrets) == 0 {
		logrus.Warn("no webhook secrets configured, accepting unsigned webhook")
		return true
	}

	signature := ""
	for _, header := range signatureHeaders {
		if value := c.GetHeader(header); value != "" {
			signature = value
			break
		}
	}
	if signature == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	for _, secret := range secrets {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		expected := hex.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(expected), []byte(signature)) {
			return true
		}
	}
	return false
}
