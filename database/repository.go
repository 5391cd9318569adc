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
	"time"

	"github.com/intakekit/relay/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	application // Interface for application record operations
	claim       // Interface for claim ownership operations
	archive     // Interface for archive lifecycle operations
}

// application defines methods for handling application records.
type application interface {
	CreateApplication(ctx context.Context, record *model.ApplicationRecord) (*model.ApplicationRecord, error)  // Creates a new application record
	GetApplication(ctx context.Context, topicID int64) (*model.ApplicationRecord, error)                       // Retrieves a record by topic ID
	GetApplicationByMessageID(ctx context.Context, messageID int64) (*model.ApplicationRecord, error)          // Retrieves a record by card message ID
	GetApplicationByThreadID(ctx context.Context, threadID int64) (*model.ApplicationRecord, error)            // Retrieves a record by thread ID
	GetApplicationByControlMessageID(ctx context.Context, messageID int64) (*model.ApplicationRecord, error)   // Retrieves a record by control message ID
	GetAllApplications(ctx context.Context, limit, offset int) ([]*model.ApplicationRecord, error)             // Retrieves all records
	GetOpenApplications(ctx context.Context) ([]*model.ApplicationRecord, error)                               // Retrieves all non-archived records
	SetThreadID(ctx context.Context, topicID, threadID int64) error                                            // Sets the discussion thread ID
	SetControlMessageID(ctx context.Context, topicID, messageID int64) error                                   // Sets the in-thread control message ID
	SetMessageMissing(ctx context.Context, topicID int64, missing bool) error                                  // Marks the card message as deleted out of band
	SetTagsLastSeen(ctx context.Context, topicID int64, tags []string) error                                   // Records the tags last observed on the topic
	SetTagsLastWritten(ctx context.Context, topicID int64, tags []string, at time.Time) error                  // Records the tags last written by us, for echo suppression
	SetTopicSnapshot(ctx context.Context, topicID int64, title, author string, syncedAt time.Time) error       // Records the last synced topic title and author
	SetTopicTitle(ctx context.Context, topicID int64, title string) error                                      // Updates the stored topic title
	SetThreadNameHistory(ctx context.Context, topicID int64, names []string) error                             // Replaces the known thread name history
	DeleteApplication(ctx context.Context, topicID int64) error                                                // Removes a record entirely
}

// claim defines methods for handling claim ownership.
type claim interface {
	TryClaim(ctx context.Context, topicID, userID int64) (bool, error) // Claims a topic only if unclaimed, reports success
	ForceClaim(ctx context.Context, topicID, userID int64) error       // Sets or clears the claim owner unconditionally
}

// archive defines methods for handling the archive lifecycle.
type archive interface {
	MarkAccepted(ctx context.Context, topicID int64, at time.Time) error              // Records when the topic first reached the accepted stage
	SetArchiveStatus(ctx context.Context, topicID int64, status string) error         // Sets the pending archive outcome
	ScheduleArchive(ctx context.Context, topicID int64, at time.Time) error           // Persists the archive due time, zero time clears it
	SetArchiveInProgress(ctx context.Context, topicID int64, inProgress bool) error   // Flags that an archival run is underway
	MarkArchived(ctx context.Context, topicID int64, at time.Time) error              // Finalizes the record as archived
}
