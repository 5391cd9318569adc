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

package database

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"

	"github.com/intakekit/relay/config"
	"github.com/intakekit/relay/internal/apierror"
	"github.com/intakekit/relay/model"
)

func newTestDataSource() (*Datasource, sqlmock.Sqlmock) {
	config.MockConfig(&config.Configuration{})
	db, mock, err := sqlmock.New()
	if err != nil {
		log.Printf("an error '%s' was not expected when opening a stub database connection", err)
	}
	return &Datasource{Conn: db, Cache: nil}, mock
}

func applicationRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"topic_id", "channel_id", "message_id", "message_missing",
		"thread_id", "control_message_id", "claimed_by",
		"tags_last_seen", "tags_last_written", "tags_written_at",
		"topic_title", "topic_author", "topic_synced_at", "thread_name_history",
		"accepted_at", "archive_status", "archive_scheduled_at", "archived_at", "archive_in_progress",
		"created_at", "updated_at",
	})
}

func TestCreateApplication(t *testing.T) {
	datasource, mock := newTestDataSource()

	author := gofakeit.Username()
	title := "Application - " + gofakeit.Name()
	record := &model.ApplicationRecord{
		TopicID:           42,
		ChannelID:         100,
		MessageID:         200,
		TagsLastSeen:      []string{model.TagNewApplication},
		TopicTitle:        title,
		TopicAuthor:       author,
		TopicSyncedAt:     time.Now(),
		ThreadNameHistory: []string{title},
	}

	mock.ExpectExec("INSERT INTO relay.applications").
		WithArgs(record.TopicID, record.ChannelID, record.MessageID, nullID(0),
			sqlmock.AnyArg(), record.TopicTitle, record.TopicAuthor,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := datasource.CreateApplication(context.Background(), record)

	assert.NoError(t, err)
	assert.Equal(t, int64(42), result.TopicID)
	assert.WithinDuration(t, time.Now(), result.CreatedAt, time.Second)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestGetApplication(t *testing.T) {
	datasource, mock := newTestDataSource()

	now := time.Now()
	rows := applicationRows().AddRow(
		int64(42), int64(100), int64(200), false,
		int64(300), int64(400), int64(500),
		"{new-application}", "{new-application}", now,
		"Application - Tester", "tester", now, "{Application - Tester}",
		nil, "", nil, nil, false,
		now, now,
	)

	mock.ExpectQuery("SELECT (.+) FROM relay.applications WHERE topic_id =").
		WithArgs(int64(42)).
		WillReturnRows(rows)

	result, err := datasource.GetApplication(context.Background(), 42)

	assert.NoError(t, err)
	assert.Equal(t, int64(42), result.TopicID)
	assert.Equal(t, int64(300), result.ThreadID)
	assert.Equal(t, int64(500), result.ClaimedBy)
	assert.Equal(t, []string{model.TagNewApplication}, []string(result.TagsLastSeen))
	assert.True(t, result.AcceptedAt.IsZero())
	assert.False(t, result.IsArchived())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestGetApplicationNotFound(t *testing.T) {
	datasource, mock := newTestDataSource()

	mock.ExpectQuery("SELECT (.+) FROM relay.applications WHERE topic_id =").
		WithArgs(int64(99)).
		WillReturnRows(applicationRows())

	_, err := datasource.GetApplication(context.Background(), 99)

	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestTryClaim(t *testing.T) {
	datasource, mock := newTestDataSource()

	mock.ExpectExec("UPDATE relay.applications SET claimed_by").
		WithArgs(int64(42), int64(500)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := datasource.TryClaim(context.Background(), 42, 500)

	assert.NoError(t, err)
	assert.True(t, claimed)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestTryClaimAlreadyClaimed(t *testing.T) {
	datasource, mock := newTestDataSource()

	mock.ExpectExec("UPDATE relay.applications SET claimed_by").
		WithArgs(int64(42), int64(500)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := datasource.TryClaim(context.Background(), 42, 500)

	assert.NoError(t, err)
	assert.False(t, claimed)
}

func TestForceClaimClears(t *testing.T) {
	datasource, mock := newTestDataSource()

	mock.ExpectExec("UPDATE relay.applications SET claimed_by").
		WithArgs(int64(42), nullID(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := datasource.ForceClaim(context.Background(), 42, 0)

	assert.NoError(t, err)
}

func TestScheduleArchiveClears(t *testing.T) {
	datasource, mock := newTestDataSource()

	mock.ExpectExec("UPDATE relay.applications SET archive_scheduled_at").
		WithArgs(int64(42), nullTime(time.Time{})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := datasource.ScheduleArchive(context.Background(), 42, time.Time{})

	assert.NoError(t, err)
}

func TestMarkArchived(t *testing.T) {
	datasource, mock := newTestDataSource()

	at := time.Now()
	mock.ExpectExec("UPDATE relay.applications").
		WithArgs(int64(42), nullTime(at)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := datasource.MarkArchived(context.Background(), 42, at)

	assert.NoError(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	datasource, mock := newTestDataSource()

	mock.ExpectExec("UPDATE relay.applications SET message_missing").
		WithArgs(int64(99), true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := datasource.SetMessageMissing(context.Background(), 99, true)

	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestGetOpenApplications(t *testing.T) {
	datasource, mock := newTestDataSource()

	now := time.Now()
	rows := applicationRows().
		AddRow(int64(1), int64(100), int64(201), false, nil, nil, nil,
			"{new-application}", nil, nil, "A", "a", now, "{}",
			nil, "", nil, nil, false, now, now).
		AddRow(int64(2), int64(100), int64(202), false, nil, nil, nil,
			"{p-file}", nil, nil, "B", "b", now, "{}",
			now, model.ArchiveStatusAccepted, now.Add(30*time.Minute), nil, false, now, now)

	mock.ExpectQuery("SELECT (.+) FROM relay.applications WHERE archived_at IS NULL").
		WillReturnRows(rows)

	result, err := datasource.GetOpenApplications(context.Background())

	assert.NoError(t, err)
	assert.Len(t, result, 2)
	assert.Equal(t, int64(0), result[0].ThreadID)
	assert.True(t, result[1].HasPendingArchive())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
