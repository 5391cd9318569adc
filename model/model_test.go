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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordPredicates(t *testing.T) {
	record := &ApplicationRecord{TopicID: 42}
	assert.False(t, record.IsArchived())
	assert.False(t, record.IsClaimed())
	assert.False(t, record.HasPendingArchive())

	record.ClaimedBy = 9001
	assert.True(t, record.IsClaimed())

	record.ArchiveScheduledAt = time.Now().Add(30 * time.Minute)
	assert.True(t, record.HasPendingArchive())

	record.ArchivedAt = time.Now()
	assert.True(t, record.IsArchived())
	assert.False(t, record.HasPendingArchive())
}

func TestCapabilityFor(t *testing.T) {
	claim := []string{"Recruiters"}
	override := []string{"Recruitment Leads"}

	assert.Equal(t, CapabilityNone, CapabilityFor([]string{"Members"}, claim, override))
	assert.Equal(t, CapabilityClaim, CapabilityFor([]string{"recruiters"}, claim, override))
	assert.Equal(t, CapabilityOverride, CapabilityFor([]string{"Members", "Recruitment Leads"}, claim, override))
	// Override wins even when a claim role is also present.
	assert.Equal(t, CapabilityOverride, CapabilityFor([]string{"Recruiters", "RECRUITMENT LEADS"}, claim, override))
	assert.Equal(t, CapabilityNone, CapabilityFor(nil, claim, override))
}

func TestActorDisplayName(t *testing.T) {
	assert.Equal(t, "Unknown", Actor{}.DisplayName())
	assert.Equal(t, "moss", Actor{UserID: 1, Name: "moss"}.DisplayName())
}

func TestSameTagSet(t *testing.T) {
	assert.True(t, SameTagSet(nil, nil))
	assert.True(t, SameTagSet([]string{"a", "b"}, []string{"b", "a"}))
	assert.False(t, SameTagSet([]string{"a"}, []string{"a", "a"}))
	assert.False(t, SameTagSet([]string{"a", "b"}, []string{"a", "c"}))
}

func TestStagePredicates(t *testing.T) {
	assert.True(t, IsAccepted([]string{"other", TagAccepted}))
	assert.False(t, IsAccepted([]string{TagOnHold}))

	assert.Equal(t, []string{"needs-docs"}, NonStageTags([]string{"needs-docs", TagLetterSent}))
	assert.True(t, IsStageTag("On-Hold"))
	assert.False(t, IsStageTag("needs-docs"))
}

func TestStageLabel(t *testing.T) {
	assert.Equal(t, "✅ Accepted", StageLabel([]string{TagAccepted, TagOnHold}))
	assert.Equal(t, "⏸️ On Hold", StageLabel([]string{TagOnHold, TagNewApplication}))
	assert.Equal(t, "🔷 New Application", StageLabel([]string{TagNewApplication}))
	assert.Equal(t, "Unknown", StageLabel(nil))
}

func TestDisplayTags(t *testing.T) {
	assert.Equal(t, []string{"Accepted", "on-hold"}, DisplayTags([]string{TagAccepted, TagOnHold}))
}

func TestStageToTag(t *testing.T) {
	assert.Equal(t, TagAccepted, StageToTag("Accept"))
	assert.Equal(t, TagAccepted, StageToTag("accepted"))
	assert.Equal(t, "on-hold", StageToTag("On-Hold"))
}

func TestFormatTagList(t *testing.T) {
	assert.Equal(t, "(none)", FormatTagList(nil))
	assert.Equal(t, "a, b", FormatTagList([]string{"a", "b"}))
}
