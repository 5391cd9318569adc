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
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/intakekit/relay/model"
)

// ActorPayload identifies the user behind a command request.
type ActorPayload struct {
	UserID int64    `json:"user_id"`
	Name   string   `json:"name"`
	Roles  []string `json:"roles"`
}

func (a ActorPayload) ToActor() model.Actor {
	return model.Actor{UserID: a.UserID, Name: a.Name, Roles: a.Roles}
}

// CommandRequest is the shared body for the per-topic command endpoints. The
// fields beyond Actor are interpreted per endpoint.
type CommandRequest struct {
	Actor  ActorPayload `json:"actor"`
	Target int64        `json:"target,omitempty"`
	Stage  string       `json:"stage,omitempty"`
	Title  string       `json:"title,omitempty"`
}

func (r *CommandRequest) validateActor() error {
	return validation.ValidateStruct(&r.Actor,
		validation.Field(&r.Actor.UserID, validation.Required),
		validation.Field(&r.Actor.Name, validation.Required),
	)
}

func (r *CommandRequest) ValidateClaim() error {
	return r.validateActor()
}

func (r *CommandRequest) ValidateUnclaim() error {
	return r.validateActor()
}

func (r *CommandRequest) ValidateReassign() error {
	if err := r.validateActor(); err != nil {
		return err
	}
	return validation.ValidateStruct(r,
		validation.Field(&r.Target, validation.Required),
	)
}

func (r *CommandRequest) ValidateSetStage() error {
	if err := r.validateActor(); err != nil {
		return err
	}
	return validation.ValidateStruct(r,
		validation.Field(&r.Stage, validation.Required),
	)
}

func (r *CommandRequest) ValidateRename() error {
	if err := r.validateActor(); err != nil {
		return err
	}
	return validation.ValidateStruct(r,
		validation.Field(&r.Title, validation.Required, validation.Length(1, 255)),
	)
}

// ToCommand builds the engine command for a request against one topic.
func (r *CommandRequest) ToCommand(commandType string, topicID int64) model.Command {
	return model.Command{
		Type:     commandType,
		TopicID:  topicID,
		Actor:    r.Actor.ToActor(),
		Target:   r.Target,
		StageTag: r.Stage,
		Title:    r.Title,
	}
}

// MessageDeletedEvent reports an out-of-band message deletion on the chat
// surface.
type MessageDeletedEvent struct {
	ChannelID int64 `json:"channel_id"`
	MessageID int64 `json:"message_id"`
}

func (e *MessageDeletedEvent) Validate() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.ChannelID, validation.Required),
		validation.Field(&e.MessageID, validation.Required),
	)
}

// ThreadDeletedEvent reports an out-of-band thread deletion.
type ThreadDeletedEvent struct {
	ThreadID int64 `json:"thread_id"`
}

func (e *ThreadDeletedEvent) Validate() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.ThreadID, validation.Required),
	)
}
