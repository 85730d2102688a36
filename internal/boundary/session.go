// Package boundary tracks conversational sessions and topic segments per
// (user, channel) pair: when a session pauses, when the topic shifts, when a
// summary is due, and how to bridge back after an absence.
package boundary

import (
	"strings"
	"time"
)

// SessionState is the lifecycle state of one (user, channel) session.
type SessionState string

const (
	StateActive      SessionState = "active"
	StatePaused      SessionState = "paused"
	StateResumed     SessionState = "resumed"
	StateInterrupted SessionState = "interrupted"
	StateCompleted   SessionState = "completed"
)

// ResolutionStatus records how a topic segment ended.
type ResolutionStatus string

const (
	ResolutionOngoing     ResolutionStatus = "ongoing"
	ResolutionResolved    ResolutionStatus = "resolved"
	ResolutionEnded       ResolutionStatus = "ended"
	ResolutionInterrupted ResolutionStatus = "interrupted"
	ResolutionResumed     ResolutionStatus = "resumed"
)

// TransitionType classifies what a message does to the current topic.
type TransitionType string

const (
	// TransitionNaturalFlow continues the current topic.
	TransitionNaturalFlow TransitionType = "natural_flow"

	// TransitionExplicitChange opens a new topic on an explicit cue.
	TransitionExplicitChange TransitionType = "explicit_change"

	// TransitionResumption returns to earlier subject matter.
	TransitionResumption TransitionType = "resumption"

	// TransitionCompletion wraps the current topic up without leaving it.
	TransitionCompletion TransitionType = "completion"

	// TransitionNewSession is the first message of a session.
	TransitionNewSession TransitionType = "new_session"
)

// Topic is one contiguous topic segment within a session. A topic is active
// while EndAt is unset.
type Topic struct {
	TopicID          string
	Keywords         []string
	StartAt          time.Time
	EndAt            *time.Time
	MessageCount     int
	EmotionalTone    string
	ResolutionStatus ResolutionStatus
}

// Active reports whether the topic segment is still open.
func (t Topic) Active() bool { return t.EndAt == nil }

// Session is the tracked state of one (user, channel) conversation.
type Session struct {
	SessionID      string
	UserID         string
	ChannelID      string
	State          SessionState
	StartAt        time.Time
	LastActivityAt time.Time
	CurrentTopic   *Topic
	TopicHistory   []Topic
	MessageCount   int
	ContextSummary string
}

// cues maps each non-flow transition to its trigger phrases. Matching is
// case-insensitive substring search over the message text.
var cues = map[TransitionType][]string{
	TransitionExplicitChange: {"by the way", "new topic", "moving on"},
	TransitionResumption:     {"back to", "as i was saying"},
	TransitionCompletion:     {"thanks", "makes sense", "that's all"},
}

// ClassifyTransition matches text against the cue table. Explicit changes win
// over resumptions win over completions when a message carries several cues.
func ClassifyTransition(text string) (TransitionType, string) {
	lower := strings.ToLower(text)
	for _, tt := range []TransitionType{TransitionExplicitChange, TransitionResumption, TransitionCompletion} {
		for _, cue := range cues[tt] {
			if strings.Contains(lower, cue) {
				return tt, cue
			}
		}
	}
	return TransitionNaturalFlow, ""
}

// closesTopic reports whether the transition ends the current topic segment.
// Completions resolve the topic but conversation keeps flowing inside it.
func closesTopic(tt TransitionType) bool {
	return tt == TransitionExplicitChange || tt == TransitionResumption
}

// closedResolution is the resolution stamped on a topic a transition closes.
func closedResolution(tt TransitionType) ResolutionStatus {
	if tt == TransitionResumption {
		return ResolutionResumed
	}
	return ResolutionEnded
}
