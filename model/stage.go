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

import "strings"

// The fixed stage-tag vocabulary the forum uses for intake progress.
// TagAccepted is the terminal "accepted" stage; the forum calls it p-file
// because accepted applicants get a personnel file.
const (
	TagNewApplication     = "new-application"
	TagLetterSent         = "letter-sent"
	TagInterviewScheduled = "interview-scheduled"
	TagInterviewHeld      = "interview-held"
	TagOnHold             = "on-hold"
	TagAccepted           = "p-file"
)

// RejectSelection is the synthetic stage the UI offers for rejection. It is
// not a forum tag: rejecting clears all stage tags on the topic.
const RejectSelection = "reject"

// StageTags lists the vocabulary in intake order.
var StageTags = []string{
	TagNewApplication,
	TagLetterSent,
	TagInterviewScheduled,
	TagInterviewHeld,
	TagOnHold,
	TagAccepted,
}

var stageTagSet = lowerSet(StageTags)

// IsStageTag reports whether tag belongs to the stage vocabulary.
func IsStageTag(tag string) bool {
	_, ok := stageTagSet[strings.ToLower(tag)]
	return ok
}

// IsAccepted is the "accepted" predicate over an observed tag set.
func IsAccepted(tags []string) bool {
	for _, t := range tags {
		if t == TagAccepted {
			return true
		}
	}
	return false
}

// NonStageTags returns the tags that are not part of the stage vocabulary,
// preserving order. Stage writes replace only the stage portion of a topic's
// tags and keep everything else.
func NonStageTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if !IsStageTag(t) {
			out = append(out, t)
		}
	}
	return out
}

// SameTagSet compares two tag lists as unordered sets. This is the comparison
// used for echo detection, where the forum may report tags in any order.
func SameTagSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, t := range a {
		seen[t]++
	}
	for _, t := range b {
		seen[t]--
		if seen[t] < 0 {
			return false
		}
	}
	return true
}

// StageLabel renders the most advanced stage in the tag set as a human label.
func StageLabel(tags []string) string {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	switch {
	case has(set, TagAccepted):
		return "✅ Accepted"
	case has(set, TagOnHold):
		return "⏸️ On Hold"
	case has(set, TagInterviewHeld):
		return "🟩📅 Interview Held"
	case has(set, TagInterviewScheduled):
		return "🟨📅 Interview Scheduled"
	case has(set, TagLetterSent):
		return "🟧✉️ Letter Sent"
	case has(set, TagNewApplication):
		return "🔷 New Application"
	}
	return "Unknown"
}

// DisplayTags maps forum tags to their chat-facing names. Only the accepted
// tag differs; internal forum jargon is not shown to chat users.
func DisplayTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == TagAccepted {
			out = append(out, "Accepted")
			continue
		}
		out = append(out, t)
	}
	return out
}

// StageToTag maps a UI stage selection to the forum tag to write. The
// "accepted" selection maps to the accepted tag; everything else passes
// through unchanged.
func StageToTag(stage string) string {
	if strings.EqualFold(stage, "accept") || strings.EqualFold(stage, "accepted") {
		return TagAccepted
	}
	return strings.ToLower(stage)
}

// FormatTagList renders a tag list for log and thread messages.
func FormatTagList(tags []string) string {
	if len(tags) == 0 {
		return "(none)"
	}
	return strings.Join(tags, ", ")
}

func has(set map[string]struct{}, tag string) bool {
	_, ok := set[tag]
	return ok
}
