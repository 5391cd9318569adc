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
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/intakekit/relay/api/middleware"
	model2 "github.com/intakekit/relay/api/model"
	"github.com/intakekit/relay/config"
	"github.com/intakekit/relay/internal/apierror"
	"github.com/intakekit/relay/model"
)

// Engine is the surface of the synchronization engine the API depends on.
type Engine interface {
	SyncTopic(ctx context.Context, topicID int64, actor model.Actor) error
	Dispatch(ctx context.Context, cmd model.Command) (string, error)
	HandleMessageDeleted(ctx context.Context, channelID, messageID int64) error
	HandleThreadDeleted(ctx context.Context, threadID int64) error
	GetRecord(ctx context.Context, topicID int64) (*model.ApplicationRecord, error)
	ListOpenRecords(ctx context.Context) ([]*model.ApplicationRecord, error)
}

type Api struct {
	engine Engine
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/webhook", a.ForumWebhook)

	router.GET("/topics", a.ListTopics)
	router.GET("/topics/:id", a.GetTopic)
	router.POST("/topics/:id/sync", a.SyncTopic)
	router.POST("/topics/:id/claim", a.command(model.CommandClaim))
	router.POST("/topics/:id/unclaim", a.command(model.CommandUnclaim))
	router.POST("/topics/:id/reassign", a.command(model.CommandReassign))
	router.POST("/topics/:id/stage", a.command(model.CommandSetStage))
	router.POST("/topics/:id/rename", a.command(model.CommandRename))

	router.POST("/events/message-deleted", a.MessageDeleted)
	router.POST("/events/thread-deleted", a.ThreadDeleted)

	return a.router
}

func NewAPI(engine Engine) (*Api, error) {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{engine: engine, router: r}, nil
}

func topicIDParam(c *gin.Context) (int64, bool) {
	raw, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func respondError(c *gin.Context, err error) {
	c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
}

func (a Api) GetTopic(c *gin.Context) {
	id, ok := topicIDParam(c)
	if !ok {
		return
	}

	record, err := a.engine.GetRecord(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (a Api) ListTopics(c *gin.Context) {
	records, err := a.engine.ListOpenRecords(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// SyncTopic forces a synchronization pass, the manual fallback for a missed
// webhook.
func (a Api) SyncTopic(c *gin.Context) {
	id, ok := topicIDParam(c)
	if !ok {
		return
	}

	var req model2.CommandRequest
	_ = c.ShouldBindJSON(&req) // actor is optional for a manual sync

	if err := a.engine.SyncTopic(c.Request.Context(), id, req.Actor.ToActor()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Synchronized"})
}

// command builds the handler for one command endpoint.
func (a Api) command(commandType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := topicIDParam(c)
		if !ok {
			return
		}

		var req model2.CommandRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var err error
		switch commandType {
		case model.CommandClaim:
			err = req.ValidateClaim()
		case model.CommandUnclaim:
			err = req.ValidateUnclaim()
		case model.CommandReassign:
			err = req.ValidateReassign()
		case model.CommandSetStage:
			err = req.ValidateSetStage()
		case model.CommandRename:
			err = req.ValidateRename()
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
			return
		}

		reply, err := a.engine.Dispatch(c.Request.Context(), req.ToCommand(commandType, id))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": reply})
	}
}

func (a Api) MessageDeleted(c *gin.Context) {
	var event model2.MessageDeletedEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := event.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := a.engine.HandleMessageDeleted(c.Request.Context(), event.ChannelID, event.MessageID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Processed"})
}

func (a Api) ThreadDeleted(c *gin.Context) {
	var event model2.ThreadDeletedEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := event.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := a.engine.HandleThreadDeleted(c.Request.Context(), event.ThreadID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Processed"})
}
