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
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intakekit/relay/config"
	"github.com/intakekit/relay/internal/apierror"
	"github.com/intakekit/relay/model"
)

type stubEngine struct {
	synced      []int64
	syncErr     error
	dispatched  []model.Command
	reply       string
	dispatchErr error

	messageDeletions [][2]int64
	threadDeletions  []int64

	record *model.ApplicationRecord
}

func (s *stubEngine) SyncTopic(ctx context.Context, topicID int64, actor model.Actor) error {
	s.synced = append(s.synced, topicID)
	return s.syncErr
}

func (s *stubEngine) Dispatch(ctx context.Context, cmd model.Command) (string, error) {
	s.dispatched = append(s.dispatched, cmd)
	return s.reply, s.dispatchErr
}

func (s *stubEngine) HandleMessageDeleted(ctx context.Context, channelID, messageID int64) error {
	s.messageDeletions = append(s.messageDeletions, [2]int64{channelID, messageID})
	return nil
}

func (s *stubEngine) HandleThreadDeleted(ctx context.Context, threadID int64) error {
	s.threadDeletions = append(s.threadDeletions, threadID)
	return nil
}

func (s *stubEngine) GetRecord(ctx context.Context, topicID int64) (*model.ApplicationRecord, error) {
	if s.record == nil {
		return nil, apierror.APIError{Code: apierror.ErrNotFound, Message: "record not found"}
	}
	return s.record, nil
}

func (s *stubEngine) ListOpenRecords(ctx context.Context) ([]*model.ApplicationRecord, error) {
	if s.record == nil {
		return []*model.ApplicationRecord{}, nil
	}
	return []*model.ApplicationRecord{s.record}, nil
}

func newTestRouter(t *testing.T, engine Engine, secure bool) *gin.Engine {
	t.Helper()
	config.MockConfig(&config.Configuration{
		Server: config.ServerConfig{Secure: secure, SecretKey: "test-secret"},
		Forum:  config.ForumConfig{BaseUrl: "https://forum.test", WebhookSecrets: []string{"s3cret"}},
	})
	a, err := NewAPI(engine)
	require.NoError(t, err)
	return a.Router()
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestForumWebhookSyncsTopic(t *testing.T) {
	engine := &stubEngine{}
	router := newTestRouter(t, engine, false)

	body := []byte(`{"topic":{"id":42,"title":"Alice Application"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Discourse-Event-Signature-SHA256", sign("s3cret", body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{42}, engine.synced)
}

func TestForumWebhookLegacySignatureHeader(t *testing.T) {
	engine := &stubEngine{}
	router := newTestRouter(t, engine, false)

	body := []byte(`{"post":{"topic_id":42}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Discourse-Signature", sign("s3cret", body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{42}, engine.synced)
}

func TestForumWebhookRejectsBadSignature(t *testing.T) {
	engine := &stubEngine{}
	router := newTestRouter(t, engine, false)

	body := []byte(`{"topic":{"id":42}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Discourse-Event-Signature-SHA256", sign("wrong-secret", body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, engine.synced)
}

func TestForumWebhookRejectsMissingSignature(t *testing.T) {
	engine := &stubEngine{}
	router := newTestRouter(t, engine, false)

	body := []byte(`{"topic":{"id":42}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestForumWebhookIgnoresEventsWithoutTopic(t *testing.T) {
	engine := &stubEngine{}
	router := newTestRouter(t, engine, false)

	body := []byte(`{"ping":"ok"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Discourse-Event-Signature-SHA256", sign("s3cret", body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Ignored (no topic id)")
	assert.Empty(t, engine.synced)
}

func TestClaimEndpoint(t *testing.T) {
	engine := &stubEngine{reply: "Claimed and thread opened."}
	router := newTestRouter(t, engine, false)

	body := []byte(`{"actor":{"user_id":7,"name":"lee","roles":["Recruiters"]}}`)
	req := httptest.NewRequest(http.MethodPost, "/topics/42/claim", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Claimed and thread opened.")
	require.Len(t, engine.dispatched, 1)
	assert.Equal(t, model.CommandClaim, engine.dispatched[0].Type)
	assert.Equal(t, int64(42), engine.dispatched[0].TopicID)
	assert.Equal(t, int64(7), engine.dispatched[0].Actor.UserID)
}

func TestClaimEndpointMapsConflict(t *testing.T) {
	engine := &stubEngine{dispatchErr: apierror.APIError{Code: apierror.ErrConflict, Message: "This application is already claimed."}}
	router := newTestRouter(t, engine, false)

	body := []byte(`{"actor":{"user_id":7,"name":"lee"}}`)
	req := httptest.NewRequest(http.MethodPost, "/topics/42/claim", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStageEndpointRequiresStage(t *testing.T) {
	engine := &stubEngine{}
	router := newTestRouter(t, engine, false)

	body := []byte(`{"actor":{"user_id":7,"name":"lee"}}`)
	req := httptest.NewRequest(http.MethodPost, "/topics/42/stage", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, engine.dispatched)
}

func TestReassignEndpointRequiresTarget(t *testing.T) {
	engine := &stubEngine{}
	router := newTestRouter(t, engine, false)

	body := []byte(`{"actor":{"user_id":9,"name":"sam"}}`)
	req := httptest.NewRequest(http.MethodPost, "/topics/42/reassign", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTopicIDValidation(t *testing.T) {
	engine := &stubEngine{}
	router := newTestRouter(t, engine, false)

	req := httptest.NewRequest(http.MethodPost, "/topics/bogus/claim", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessageDeletedEndpoint(t *testing.T) {
	engine := &stubEngine{}
	router := newTestRouter(t, engine, false)

	body := []byte(`{"channel_id":100,"message_id":555}`)
	req := httptest.NewRequest(http.MethodPost, "/events/message-deleted", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, engine.messageDeletions, 1)
	assert.Equal(t, [2]int64{100, 555}, engine.messageDeletions[0])
}

func TestThreadDeletedEndpoint(t *testing.T) {
	engine := &stubEngine{}
	router := newTestRouter(t, engine, false)

	body := []byte(`{"thread_id":777}`)
	req := httptest.NewRequest(http.MethodPost, "/events/thread-deleted", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{777}, engine.threadDeletions)
}

func TestGetTopicNotFound(t *testing.T) {
	engine := &stubEngine{}
	router := newTestRouter(t, engine, false)

	req := httptest.NewRequest(http.MethodGet, "/topics/42", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSecureModeGuardsCommandEndpoints(t *testing.T) {
	engine := &stubEngine{reply: "ok"}
	router := newTestRouter(t, engine, true)

	body := []byte(`{"actor":{"user_id":7,"name":"lee"}}`)
	req := httptest.NewRequest(http.MethodPost, "/topics/42/claim", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/topics/42/claim", bytes.NewReader(body))
	req.Header.Set("X-Relay-Key", "test-secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// The webhook authenticates with its own signature, not the secret key.
	hookBody := []byte(`{"topic":{"id":42}}`)
	req = httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(hookBody))
	req.Header.Set("X-Discourse-Event-Signature-SHA256", sign("s3cret", hookBody))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
