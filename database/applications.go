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
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/intakekit/relay/internal/apierror"
	"github.com/intakekit/relay/model"
)

// applicationColumns is the shared select list. Every scanApplication call
// expects columns in exactly this order.
const applicationColumns = `
	topic_id, channel_id, message_id, message_missing,
	thread_id, control_message_id, claimed_by,
	tags_last_seen, tags_last_written, tags_written_at,
	topic_title, topic_author, topic_synced_at, thread_name_history,
	accepted_at, archive_status, archive_scheduled_at, archived_at, archive_in_progress,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApplication(row rowScanner) (*model.ApplicationRecord, error) {
	record := model.ApplicationRecord{}
	var (
		threadID         sql.NullInt64
		controlMessageID sql.NullInt64
		claimedBy        sql.NullInt64
		tagsLastWritten  pq.StringArray
		tagsWrittenAt    sql.NullTime
		topicSyncedAt    sql.NullTime
		acceptedAt       sql.NullTime
		archiveScheduled sql.NullTime
		archivedAt       sql.NullTime
	)
	err := row.Scan(
		&record.TopicID, &record.ChannelID, &record.MessageID, &record.MessageMissing,
		&threadID, &controlMessageID, &claimedBy,
		pq.Array(&record.TagsLastSeen), &tagsLastWritten, &tagsWrittenAt,
		&record.TopicTitle, &record.TopicAuthor, &topicSyncedAt, pq.Array(&record.ThreadNameHistory),
		&acceptedAt, &record.ArchiveStatus, &archiveScheduled, &archivedAt, &record.ArchiveInProgress,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.ThreadID = threadID.Int64
	record.ControlMessageID = controlMessageID.Int64
	record.ClaimedBy = claimedBy.Int64
	record.TagsLastWritten = tagsLastWritten
	record.TagsWrittenAt = tagsWrittenAt.Time
	record.TopicSyncedAt = topicSyncedAt.Time
	record.AcceptedAt = acceptedAt.Time
	record.ArchiveScheduledAt = archiveScheduled.Time
	record.ArchivedAt = archivedAt.Time
	return &record, nil
}

func nullID(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (d Datasource) CreateApplication(ctx context.Context, record *model.ApplicationRecord) (*model.ApplicationRecord, error) {
	record.CreatedAt = time.Now()
	record.UpdatedAt = record.CreatedAt

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO relay.applications
			(topic_id, channel_id, message_id, thread_id, tags_last_seen,
			 topic_title, topic_author, topic_synced_at, thread_name_history,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, record.TopicID, record.ChannelID, record.MessageID, nullID(record.ThreadID),
		pq.Array(record.TagsLastSeen), record.TopicTitle, record.TopicAuthor,
		nullTime(record.TopicSyncedAt), pq.Array(record.ThreadNameHistory),
		record.CreatedAt, record.UpdatedAt)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return nil, apierror.NewAPIError(apierror.ErrConflict, "Application for this topic already exists", err)
			default:
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Database error occurred", err)
			}
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create application", err)
	}

	return record, nil
}

func (d Datasource) getApplicationBy(ctx context.Context, column string, id int64) (*model.ApplicationRecord, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+applicationColumns+`
		FROM relay.applications
		WHERE `+column+` = $1
	`, id)

	record, err := scanApplication(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Application not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve application", err)
	}
	return record, nil
}

func (d Datasource) GetApplication(ctx context.Context, topicID int64) (*model.ApplicationRecord, error) {
	return d.getApplicationBy(ctx, "topic_id", topicID)
}

func (d Datasource) GetApplicationByMessageID(ctx context.Context, messageID int64) (*model.ApplicationRecord, error) {
	return d.getApplicationBy(ctx, "message_id", messageID)
}

func (d Datasource) GetApplicationByThreadID(ctx context.Context, threadID int64) (*model.ApplicationRecord, error) {
	return d.getApplicationBy(ctx, "thread_id", threadID)
}

func (d Datasource) GetApplicationByControlMessageID(ctx context.Context, messageID int64) (*model.ApplicationRecord, error) {
	return d.getApplicationBy(ctx, "control_message_id", messageID)
}

func (d Datasource) GetAllApplications(ctx context.Context, limit, offset int) ([]*model.ApplicationRecord, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+applicationColumns+`
		FROM relay.applications
		ORDER BY topic_id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve applications", err)
	}
	defer rows.Close()

	return collectApplications(rows)
}

func (d Datasource) GetOpenApplications(ctx context.Context) ([]*model.ApplicationRecord, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+applicationColumns+`
		FROM relay.applications
		WHERE archived_at IS NULL
		ORDER BY topic_id
	`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve open applications", err)
	}
	defer rows.Close()

	return collectApplications(rows)
}

func collectApplications(rows *sql.Rows) ([]*model.ApplicationRecord, error) {
	records := []*model.ApplicationRecord{}
	for rows.Next() {
		record, err := scanApplication(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan application data", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over applications", err)
	}
	return records, nil
}

// updateApplication runs an UPDATE that is expected to touch exactly one row.
func (d Datasource) updateApplication(ctx context.Context, query string, args ...interface{}) error {
	result, err := d.Conn.ExecContext(ctx, query, args...)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update application", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update application", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Application not found", sql.ErrNoRows)
	}
	return nil
}

func (d Datasource) SetThreadID(ctx context.Context, topicID, threadID int64) error {
	return d.updateApplication(ctx, `
		UPDATE relay.applications SET thread_id = $2, updated_at = NOW() WHERE topic_id = $1
	`, topicID, nullID(threadID))
}

func (d Datasource) SetControlMessageID(ctx context.Context, topicID, messageID int64) error {
	return d.updateApplication(ctx, `
		UPDATE relay.applications SET control_message_id = $2, updated_at = NOW() WHERE topic_id = $1
	`, topicID, nullID(messageID))
}

func (d Datasource) SetMessageMissing(ctx context.Context, topicID int64, missing bool) error {
	return d.updateApplication(ctx, `
		UPDATE relay.applications SET message_missing = $2, updated_at = NOW() WHERE topic_id = $1
	`, topicID, missing)
}

func (d Datasource) SetTagsLastSeen(ctx context.Context, topicID int64, tags []string) error {
	return d.updateApplication(ctx, `
		UPDATE relay.applications SET tags_last_seen = $2, updated_at = NOW() WHERE topic_id = $1
	`, topicID, pq.Array(tags))
}

func (d Datasource) SetTagsLastWritten(ctx context.Context, topicID int64, tags []string, at time.Time) error {
	return d.updateApplication(ctx, `
		UPDATE relay.applications SET tags_last_written = $2, tags_written_at = $3, updated_at = NOW() WHERE topic_id = $1
	`, topicID, pq.Array(tags), nullTime(at))
}

func (d Datasource) SetTopicSnapshot(ctx context.Context, topicID int64, title, author string, syncedAt time.Time) error {
	return d.updateApplication(ctx, `
		UPDATE relay.applications SET topic_title = $2, topic_author = $3, topic_synced_at = $4, updated_at = NOW() WHERE topic_id = $1
	`, topicID, title, author, nullTime(syncedAt))
}

func (d Datasource) SetTopicTitle(ctx context.Context, topicID int64, title string) error {
	return d.updateApplication(ctx, `
		UPDATE relay.applications SET topic_title = $2, updated_at = NOW() WHERE topic_id = $1
	`, topicID, title)
}

func (d Datasource) SetThreadNameHistory(ctx context.Context, topicID int64, names []string) error {
	return d.updateApplication(ctx, `
		UPDATE relay.applications SET thread_name_history = $2, updated_at = NOW() WHERE topic_id = $1
	`, topicID, pq.Array(names))
}

func (d Datasource) DeleteApplication(ctx context.Context, topicID int64) error {
	return d.updateApplication(ctx, `
		DELETE FROM relay.applications WHERE topic_id = $1
	`, topicID)
}

// TryClaim sets the claim owner only when the topic is currently unclaimed.
// The WHERE clause makes the read-and-set atomic, so two racing claims can
// never both succeed.
func (d Datasource) TryClaim(ctx context.Context, topicID, userID int64) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE relay.applications SET claimed_by = $2, updated_at = NOW()
		WHERE topic_id = $1 AND claimed_by IS NULL
	`, topicID, userID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim application", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim application", err)
	}
	return affected == 1, nil
}

// ForceClaim overwrites the claim owner. A zero userID clears the claim.
func (d Datasource) ForceClaim(ctx context.Context, topicID, userID int64) error {
	return d.updateApplication(ctx, `
		UPDATE relay.applications SET claimed_by = $2, updated_at = NOW() WHERE topic_id = $1
	`, topicID, nullID(userID))
}

func (d Datasource) MarkAccepted(ctx context.Context, topicID int64, at time.Time) error {
	return d.updateApplication(ctx, `
		UPDATE relay.applications SET accepted_at = $2, updated_at = NOW() WHERE topic_id = $1
	`, topicID, nullTime(at))
}

func (d Datasource) SetArchiveStatus(ctx context.Context, topicID int64, status string) error {
	return d.updateApplication(ctx, `
		UPDATE relay.applications SET archive_status = $2, updated_at = NOW() WHERE topic_id = $1
	`, topicID, status)
}

func (d Datasource) ScheduleArchive(ctx context.Context, topicID int64, at time.Time) error {
	return d.updateApplication(ctx, `
		UPDATE relay.applications SET archive_scheduled_at = $2, updated_at = NOW() WHERE topic_id = $1
	`, topicID, nullTime(at))
}

func (d Datasource) SetArchiveInProgress(ctx context.Context, topicID int64, inProgress bool) error {
	return d.updateApplication(ctx, `
		UPDATE relay.applications SET archive_in_progress = $2, updated_at = NOW() WHERE topic_id = $1
	`, topicID, inProgress)
}

func (d Datasource) MarkArchived(ctx context.Context, topicID int64, at time.Time) error {
	return d.updateApplication(ctx, `
		UPDATE relay.applications
		SET archived_at = $2, archive_scheduled_at = NULL, archive_in_progress = FALSE, updated_at = NOW()
		WHERE topic_id = $1
	`, topicID, nullTime(at))
}
