package chat

// TrajectoryDirection classifies the net movement of emotional valence over a
// multi-turn window.
type TrajectoryDirection string

const (
	TrajectoryImproving TrajectoryDirection = "improving"
	TrajectoryDeclining TrajectoryDirection = "declining"
	TrajectoryStable    TrajectoryDirection = "stable"
)

// TrajectoryMomentum classifies the most recent movement within the window.
type TrajectoryMomentum string

const (
	MomentumPositive TrajectoryMomentum = "positive_momentum"
	MomentumNegative TrajectoryMomentum = "negative_momentum"
	MomentumStable   TrajectoryMomentum = "stable_momentum"
)

// TrajectoryArc names the overall shape of the valence curve.
type TrajectoryArc string

const (
	ArcPeakAndDecline TrajectoryArc = "peak_and_decline"
	ArcValleyAndRise  TrajectoryArc = "valley_and_rise"
	ArcAscending      TrajectoryArc = "ascending_arc"
	ArcDescending     TrajectoryArc = "descending_arc"
	ArcStable         TrajectoryArc = "stable_arc"
)

// TrajectoryResult summarises the emotional trajectory of recent turns.
type TrajectoryResult struct {
	Direction TrajectoryDirection
	Velocity  float64
	Momentum  TrajectoryMomentum
	Arc       TrajectoryArc

	// Patterns lists named sub-patterns detected in the window
	// (e.g., "oscillating", "recovery").
	Patterns []string

	// Stability is 1 − stddev/2 of the valence sequence, clamped to [0, 1].
	Stability float64

	// Window is the number of emotion points the analysis covered.
	Window int
}

// FlowType classifies how the current message relates to the conversation so far.
type FlowType string

const (
	FlowTopicContinuation     FlowType = "topic_continuation"
	FlowTopicShift            FlowType = "topic_shift"
	FlowCallbackReference     FlowType = "callback_reference"
	FlowEmotionalProgression  FlowType = "emotional_progression"
	FlowNeutral               FlowType = "neutral"
)

// ConversationDepth grades how personal the conversation currently is.
type ConversationDepth string

const (
	DepthSurface  ConversationDepth = "surface"
	DepthEngaging ConversationDepth = "engaging"
	DepthPersonal ConversationDepth = "personal"
	DepthIntimate ConversationDepth = "intimate"
	DepthProfound ConversationDepth = "profound"
)

// FlowPrediction forecasts the likely next movement of the conversation.
type FlowPrediction string

const (
	PredictDeepening    FlowPrediction = "likely_deepening"
	PredictTopicShift   FlowPrediction = "likely_topic_shift"
	PredictContinuation FlowPrediction = "likely_continuation"
	PredictStableFlow   FlowPrediction = "stable_flow"
)

// FlowResult classifies the conversational flow of the current message.
type FlowResult struct {
	Type       FlowType
	Confidence float64
	Depth      ConversationDepth

	// ContinuityScore measures topical continuity with recent memories, in [0, 1].
	ContinuityScore float64

	// IntimacyDevelopment is the signed change in conversational intimacy,
	// roughly in [-1, 1].
	IntimacyDevelopment float64

	// EmotionalMomentum is the signed recent valence movement.
	EmotionalMomentum float64

	Prediction FlowPrediction

	// VectorEnhanced is true when the classification used multi-dimensional
	// memory retrieval rather than the keyword fallback.
	VectorEnhanced bool
}

// SessionView is the boundary manager's snapshot exposed to the prompt
// composer: enough to describe where the conversation stands without coupling
// the composer to session internals.
type SessionView struct {
	SessionID      string
	State          string
	CurrentTopic   []string // keywords of the active topic
	MessageCount   int
	ContextSummary string
	BridgeText     string // non-empty when resuming after a pause
}

// Signals is the fused output of the scatter-gather pipeline for one inbound
// message. Any pointer field may be nil when its branch failed or timed out;
// consumers must treat nil as "signal unavailable".
type Signals struct {
	Emotion      *EmotionResult
	Flow         *FlowResult
	Trajectory   *TrajectoryResult
	Session      *SessionView
	Relationship *RelationshipState

	// RecentMessages is the short-window conversation context, chronological.
	RecentMessages []CachedMessage

	// TopicTags are keywords describing the current topic, used in the
	// persisted memory payload.
	TopicTags []string
}
