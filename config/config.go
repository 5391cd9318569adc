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

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5056"

	ModeProd   = "prod"
	ModeTest   = "test"
	ModeDryRun = "dry-run"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"RELAY_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"RELAY_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"RELAY_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"RELAY_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"RELAY_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"RELAY_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"RELAY_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"RELAY_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"RELAY_REDIS_SKIP_TLS_VERIFY"`
}

// ForumConfig describes the external topic source (a Discourse-style forum):
// where to read topics from, how to authenticate writes, which webhook secrets
// are currently valid, and which category is tracked.
type ForumConfig struct {
	BaseUrl              string   `json:"base_url" envconfig:"RELAY_FORUM_BASE_URL"`
	ApiKey               string   `json:"api_key" envconfig:"RELAY_FORUM_API_KEY"`
	ApiUser              string   `json:"api_user" envconfig:"RELAY_FORUM_API_USER"`
	WebhookSecrets       []string `json:"webhook_secrets" envconfig:"RELAY_FORUM_WEBHOOK_SECRETS"`
	CategoryID           int      `json:"category_id" envconfig:"RELAY_FORUM_CATEGORY_ID"`
	TestCategoryID       int      `json:"test_category_id" envconfig:"RELAY_FORUM_TEST_CATEGORY_ID"`
	TopicCacheTTLSeconds int      `json:"topic_cache_ttl_seconds" envconfig:"RELAY_FORUM_TOPIC_CACHE_TTL_SECONDS"`
}

// ChatConfig describes the notification surface. Prod and test targets are kept
// separate so the prod guild can never be touched without an explicit opt-in.
type ChatConfig struct {
	Mode                 string   `json:"mode" envconfig:"RELAY_CHAT_MODE"`
	AllowProd            bool     `json:"allow_prod" envconfig:"RELAY_CHAT_ALLOW_PROD"`
	BotToken             string   `json:"bot_token" envconfig:"RELAY_CHAT_BOT_TOKEN"`
	ApiUrl               string   `json:"api_url" envconfig:"RELAY_CHAT_API_URL"`
	GuildID              int64    `json:"guild_id" envconfig:"RELAY_CHAT_GUILD_ID"`
	NotifyChannelID      int64    `json:"notify_channel_id" envconfig:"RELAY_CHAT_NOTIFY_CHANNEL_ID"`
	ArchiveChannelID     int64    `json:"archive_channel_id" envconfig:"RELAY_CHAT_ARCHIVE_CHANNEL_ID"`
	TestGuildID          int64    `json:"test_guild_id" envconfig:"RELAY_CHAT_TEST_GUILD_ID"`
	TestNotifyChannelID  int64    `json:"test_notify_channel_id" envconfig:"RELAY_CHAT_TEST_NOTIFY_CHANNEL_ID"`
	TestArchiveChannelID int64    `json:"test_archive_channel_id" envconfig:"RELAY_CHAT_TEST_ARCHIVE_CHANNEL_ID"`
	ClaimRoles           []string `json:"claim_roles" envconfig:"RELAY_CHAT_CLAIM_ROLES"`
	OverrideRoles        []string `json:"override_roles" envconfig:"RELAY_CHAT_OVERRIDE_ROLES"`
	ThreadAutoAddRoles   []string `json:"thread_auto_add_roles" envconfig:"RELAY_CHAT_THREAD_AUTO_ADD_ROLES"`
	ArchiveDelayMinutes  int      `json:"archive_delay_minutes" envconfig:"RELAY_CHAT_ARCHIVE_DELAY_MINUTES"`
}

type QueueConfig struct {
	ArchiveQueue     string `json:"archive_queue" envconfig:"RELAY_QUEUE_ARCHIVE"`
	EventQueue       string `json:"event_queue" envconfig:"RELAY_QUEUE_EVENT"`
	MaxRetryAttempts int    `json:"max_retry_attempts" envconfig:"RELAY_QUEUE_MAX_RETRY_ATTEMPTS"`
	MonitoringPort   string `json:"monitoring_port" envconfig:"RELAY_QUEUE_MONITORING_PORT"`
}

type TranscriptConfig struct {
	AwsAccessKeyId     string `json:"aws_access_key_id" envconfig:"RELAY_AWS_ACCESS_KEY_ID"`
	AwsSecretAccessKey string `json:"aws_secret_access_key" envconfig:"RELAY_AWS_SECRET_ACCESS_KEY"`
	S3BucketName       string `json:"s3_bucket_name" envconfig:"RELAY_S3_BUCKET_NAME"`
	S3Region           string `json:"s3_region" envconfig:"RELAY_S3_REGION"`
	S3Endpoint         string `json:"s3_endpoint" envconfig:"RELAY_S3_ENDPOINT"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"RELAY_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"RELAY_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"RELAY_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"RELAY_PROJECT_NAME"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Forum        ForumConfig      `json:"forum"`
	Chat         ChatConfig       `json:"chat"`
	Queue        QueueConfig      `json:"queue"`
	Transcript   TranscriptConfig `json:"transcript"`
	Notification Notification     `json:"notification"`
	RateLimit    RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("relay", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called relay.json with your config ❌")
	}
	return c, nil
}

// IsDryRun reports whether the chat surface must not be mutated. Dry-run mode
// logs intended changes and skips the write.
func (cnf *Configuration) IsDryRun() bool {
	return strings.ToLower(strings.TrimSpace(cnf.Chat.Mode)) == ModeDryRun
}

// TargetGuildAndChannel resolves the guild and notify channel for the current
// mode. Prod refuses to resolve unless AllowProd is set, which keeps a stray
// env var from pointing a test deployment at the live guild.
func (cnf *Configuration) TargetGuildAndChannel() (int64, int64, error) {
	switch strings.ToLower(strings.TrimSpace(cnf.Chat.Mode)) {
	case ModeTest, ModeDryRun:
		if cnf.Chat.TestGuildID == 0 || cnf.Chat.TestNotifyChannelID == 0 {
			return 0, 0, errors.New("test guild and notify channel must be configured for test or dry-run mode")
		}
		return cnf.Chat.TestGuildID, cnf.Chat.TestNotifyChannelID, nil
	case ModeProd:
		if !cnf.Chat.AllowProd {
			return 0, 0, errors.New("refusing to run in prod mode without RELAY_CHAT_ALLOW_PROD=1")
		}
		if cnf.Chat.GuildID == 0 || cnf.Chat.NotifyChannelID == 0 {
			return 0, 0, errors.New("guild and notify channel must be configured for prod mode")
		}
		return cnf.Chat.GuildID, cnf.Chat.NotifyChannelID, nil
	}
	return 0, 0, fmt.Errorf("invalid chat mode %q (expected prod|test|dry-run)", cnf.Chat.Mode)
}

// TargetArchiveChannelID resolves the archive destination for the current mode.
// Zero means no archive channel is configured.
func (cnf *Configuration) TargetArchiveChannelID() int64 {
	switch strings.ToLower(strings.TrimSpace(cnf.Chat.Mode)) {
	case ModeTest, ModeDryRun:
		return cnf.Chat.TestArchiveChannelID
	case ModeProd:
		return cnf.Chat.ArchiveChannelID
	}
	return 0
}

// TargetCategoryID resolves the tracked forum category for the current mode.
func (cnf *Configuration) TargetCategoryID() int {
	switch strings.ToLower(strings.TrimSpace(cnf.Chat.Mode)) {
	case ModeTest, ModeDryRun:
		if cnf.Forum.TestCategoryID != 0 {
			return cnf.Forum.TestCategoryID
		}
	}
	return cnf.Forum.CategoryID
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Relay Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if cnf.Forum.BaseUrl == "" {
		log.Println("Error: Forum base URL is empty. It's a required field.")
		return errors.New("forum base URL is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Forum.BaseUrl = strings.TrimRight(strings.TrimSpace(cnf.Forum.BaseUrl), "/")

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Chat.Mode == "" {
		cnf.Chat.Mode = ModeTest
		log.Printf("Warning: Chat mode not specified. Defaulting to %s mode", ModeTest)
	}

	if cnf.Chat.ApiUrl == "" {
		cnf.Chat.ApiUrl = "https://discord.com/api/v10"
	}
	cnf.Chat.ApiUrl = strings.TrimRight(strings.TrimSpace(cnf.Chat.ApiUrl), "/")

	if cnf.Chat.ArchiveDelayMinutes <= 0 {
		cnf.Chat.ArchiveDelayMinutes = 30
	}

	if len(cnf.Chat.ClaimRoles) == 0 {
		cnf.Chat.ClaimRoles = []string{"Recruiters"}
	}
	if len(cnf.Chat.OverrideRoles) == 0 {
		cnf.Chat.OverrideRoles = []string{"Recruitment Leads"}
	}

	// Conservative default: a stale snapshot can render an outdated owner, so
	// keep the window short. A negative value disables the snapshot cache.
	if cnf.Forum.TopicCacheTTLSeconds == 0 {
		cnf.Forum.TopicCacheTTLSeconds = 300
	}

	if cnf.Queue.ArchiveQueue == "" {
		cnf.Queue.ArchiveQueue = "archive"
	}
	if cnf.Queue.EventQueue == "" {
		cnf.Queue.EventQueue = "events"
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 3
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5001"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	// Set default cleanup interval if not specified
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
