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
	"database/sql"
	"log"
	"sync"

	_ "github.com/lib/pq"

	"github.com/intakekit/relay/config"
	"github.com/intakekit/relay/internal/cache"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con, Cache: nil}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database connection error ❌: %v", err)
		return nil, err
	}
	err = Migrate(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates the relay schema and all tables. It is idempotent and
// safe to run on every start.
func Migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS relay`)
	if err != nil {
		return err
	}
	return createApplicationTable(db)
}

// createApplicationTable creates a PostgreSQL table for the ApplicationRecord struct
func createApplicationTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS relay.applications (
			topic_id BIGINT PRIMARY KEY,
			channel_id BIGINT NOT NULL,
			message_id BIGINT NOT NULL,
			message_missing BOOLEAN NOT NULL DEFAULT FALSE,
			thread_id BIGINT,
			control_message_id BIGINT,
			claimed_by BIGINT,
			tags_last_seen TEXT[] NOT NULL DEFAULT '{}',
			tags_last_written TEXT[],
			tags_written_at TIMESTAMP,
			topic_title TEXT NOT NULL DEFAULT '',
			topic_author TEXT NOT NULL DEFAULT '',
			topic_synced_at TIMESTAMP,
			thread_name_history TEXT[] NOT NULL DEFAULT '{}',
			accepted_at TIMESTAMP,
			archive_status TEXT NOT NULL DEFAULT '',
			archive_scheduled_at TIMESTAMP,
			archived_at TIMESTAMP,
			archive_in_progress BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_applications_message_id ON relay.applications (message_id);
		CREATE INDEX IF NOT EXISTS idx_applications_thread_id ON relay.applications (thread_id);
		CREATE INDEX IF NOT EXISTS idx_applications_control_message_id ON relay.applications (control_message_id);
	`)
	if err != nil {
		log.Printf("Error creating applications table: %v", err)
	}
	return err
}
