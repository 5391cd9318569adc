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

// Package transcript renders a thread transcript as text and uploads it to
// the configured S3 bucket as the permanent record of an archived topic.
package transcript

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/intakekit/relay/config"
)

// Message is one line of an exported thread transcript.
type Message struct {
	Author  string
	Content string
	SentAt  time.Time
}

// Render produces the plain-text transcript body.
func Render(topicID int64, title string, messages []Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transcript for topic %d: %s\n", topicID, title)
	fmt.Fprintf(&b, "Exported at %s\n\n", time.Now().UTC().Format(time.RFC3339))
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.SentAt.UTC().Format("2006-01-02 15:04:05"), m.Author, m.Content)
	}
	return b.String()
}

// Upload writes the transcript to the configured bucket. Returns the object
// key. A missing bucket configuration is reported as an error so callers can
// decide whether the export is optional.
func Upload(ctx context.Context, topicID int64, body string) (string, error) {
	conf, err := config.Fetch()
	if err != nil {
		return "", err
	}
	if conf.Transcript.S3BucketName == "" {
		return "", fmt.Errorf("transcript bucket not configured")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(conf.Transcript.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			conf.Transcript.AwsAccessKeyId, conf.Transcript.AwsSecretAccessKey, "")),
	)
	if err != nil {
		return "", err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if conf.Transcript.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(conf.Transcript.S3Endpoint)
		}
	})

	key := fmt.Sprintf("transcripts/%s/topic-%d.txt", time.Now().UTC().Format("2006-01-02"), topicID)
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(conf.Transcript.S3BucketName),
		Key:    aws.String(key),
		Body:   strings.NewReader(body),
	})
	if err != nil {
		return "", err
	}

	return key, nil
}
