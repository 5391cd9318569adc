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
package mocks

import (
	"context"
	"time"

	"github.com/intakekit/relay/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

func recordOrNil(v interface{}) *model.ApplicationRecord {
	if record, ok := v.(*model.ApplicationRecord); ok {
		return record
	}
	return nil
}

// Application methods

func (m *MockDataSource) CreateApplication(ctx context.Context, record *model.ApplicationRecord) (*model.ApplicationRecord, error) {
	args := m.Called(ctx, record)
	return recordOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) GetApplication(ctx context.Context, topicID int64) (*model.ApplicationRecord, error) {
	args := m.Called(ctx, topicID)
	return recordOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) GetApplicationByMessageID(ctx context.Context, messageID int64) (*model.ApplicationRecord, error) {
	args := m.Called(ctx, messageID)
	return recordOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) GetApplicationByThreadID(ctx context.Context, threadID int64) (*model.ApplicationRecord, error) {
	args := m.Called(ctx, threadID)
	return recordOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) GetApplicationByControlMessageID(ctx context.Context, messageID int64) (*model.ApplicationRecord, error) {
	args := m.Called(ctx, messageID)
	return recordOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) GetAllApplications(ctx context.Context, limit, offset int) ([]*model.ApplicationRecord, error) {
	args := m.Called(ctx, limit, offset)
	if records, ok := args.Get(0).([]*model.ApplicationRecord); ok {
		return records, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) GetOpenApplications(ctx context.Context) ([]*model.ApplicationRecord, error) {
	args := m.Called(ctx)
	if records, ok := args.Get(0).([]*model.ApplicationRecord); ok {
		return records, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) SetThreadID(ctx context.Context, topicID, threadID int64) error {
	args := m.Called(ctx, topicID, threadID)
	return args.Error(0)
}

func (m *MockDataSource) SetControlMessageID(ctx context.Context, topicID, messageID int64) error {
	args := m.Called(ctx, topicID, messageID)
	return args.Error(0)
}

func (m *MockDataSource) SetMessageMissing(ctx context.Context, topicID int64, missing bool) error {
	args := m.Called(ctx, topicID, missing)
	return args.Error(0)
}

func (m *MockDataSource) SetTagsLastSeen(ctx context.Context, topicID int64, tags []string) error {
	args := m.Called(ctx, topicID, tags)
	return args.Error(0)
}

func (m *MockDataSource) SetTagsLastWritten(ctx context.Context, topicID int64, tags []string, at time.Time) error {
	args := m.Called(ctx, topicID, tags, at)
	return args.Error(0)
}

func (m *MockDataSource) SetTopicSnapshot(ctx context.Context, topicID int64, title, author string, syncedAt time.Time) error {
	args := m.Called(ctx, topicID, title, author, syncedAt)
	return args.Error(0)
}

func (m *MockDataSource) SetTopicTitle(ctx context.Context, topicID int64, title string) error {
	args := m.Called(ctx, topicID, title)
	return args.Error(0)
}

func (m *MockDataSource) SetThreadNameHistory(ctx context.Context, topicID int64, names []string) error {
	args := m.Called(ctx, topicID, names)
	return args.Error(0)
}

func (m *MockDataSource) DeleteApplication(ctx context.Context, topicID int64) error {
	args := m.Called(ctx, topicID)
	return args.Error(0)
}

// Claim methods

func (m *MockDataSource) TryClaim(ctx context.Context, topicID, userID int64) (bool, error) {
	args := m.Called(ctx, topicID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) ForceClaim(ctx context.Context, topicID, userID int64) error {
	args := m.Called(ctx, topicID, userID)
	return args.Error(0)
}

// Archive methods

func (m *MockDataSource) MarkAccepted(ctx context.Context, topicID int64, at time.Time) error {
	args := m.Called(ctx, topicID, at)
	return args.Error(0)
}

func (m *MockDataSource) SetArchiveStatus(ctx context.Context, topicID int64, status string) error {
	args := m.Called(ctx, topicID, status)
	return args.Error(0)
}

func (m *MockDataSource) ScheduleArchive(ctx context.Context, topicID int64, at time.Time) error {
	args := m.Called(ctx, topicID, at)
	return args.Error(0)
}

func (m *MockDataSource) SetArchiveInProgress(ctx context.Context, topicID int64, inProgress bool) error {
	args := m.Called(ctx, topicID, inProgress)
	return args.Error(0)
}

func (m *MockDataSource) MarkArchived(ctx context.Context, topicID int64, at time.Time) error {
	args := m.Called(ctx, topicID, at)
	return args.Error(0)
}
