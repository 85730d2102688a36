package chat

// Emotion is one label from the closed emotion set shared by the emotion
// analyzer, the vector store payload, the time-series metrics, and the
// trajectory analyzer. Any value outside the set is coerced to
// [EmotionNeutral] before it reaches a store.
type Emotion string

// The closed emotion set.
const (
	EmotionJoy            Emotion = "joy"
	EmotionExcitement     Emotion = "excitement"
	EmotionGratitude      Emotion = "gratitude"
	EmotionLove           Emotion = "love"
	EmotionHope           Emotion = "hope"
	EmotionCuriosity      Emotion = "curiosity"
	EmotionAnticipation   Emotion = "anticipation"
	EmotionContentment    Emotion = "contentment"
	EmotionContemplative  Emotion = "contemplative"
	EmotionReflective     Emotion = "reflective"
	EmotionNeutral        Emotion = "neutral"
	EmotionSadness        Emotion = "sadness"
	EmotionDisappointment Emotion = "disappointment"
	EmotionFrustration    Emotion = "frustration"
	EmotionAnger          Emotion = "anger"
	EmotionFear           Emotion = "fear"
	EmotionAnxiety        Emotion = "anxiety"
	EmotionWorry          Emotion = "worry"
)

// Emotions lists the closed set in declared order, for deterministic
// iteration.
var Emotions = []Emotion{
	EmotionJoy, EmotionExcitement, EmotionGratitude, EmotionLove,
	EmotionHope, EmotionCuriosity, EmotionAnticipation, EmotionContentment,
	EmotionContemplative, EmotionReflective, EmotionNeutral, EmotionSadness,
	EmotionDisappointment, EmotionFrustration, EmotionAnger, EmotionFear,
	EmotionAnxiety, EmotionWorry,
}

// allEmotions indexes the closed set for validation.
var allEmotions = map[Emotion]struct{}{
	EmotionJoy: {}, EmotionExcitement: {}, EmotionGratitude: {},
	EmotionLove: {}, EmotionHope: {}, EmotionCuriosity: {},
	EmotionAnticipation: {}, EmotionContentment: {}, EmotionContemplative: {},
	EmotionReflective: {}, EmotionNeutral: {}, EmotionSadness: {},
	EmotionDisappointment: {}, EmotionFrustration: {}, EmotionAnger: {},
	EmotionFear: {}, EmotionAnxiety: {}, EmotionWorry: {},
}

// IsValid reports whether e is a member of the closed emotion set.
func (e Emotion) IsValid() bool {
	_, ok := allEmotions[e]
	return ok
}

// Coerce returns e unchanged when it is a member of the closed set, and
// [EmotionNeutral] otherwise. Store ingress paths call this so that no record
// ever carries an out-of-set label.
func (e Emotion) Coerce() Emotion {
	if e.IsValid() {
		return e
	}
	return EmotionNeutral
}

// positiveEmotions are the labels treated as positive when deriving
// relationship deltas.
var positiveEmotions = map[Emotion]struct{}{
	EmotionJoy: {}, EmotionExcitement: {}, EmotionGratitude: {},
	EmotionLove: {}, EmotionHope: {}, EmotionContentment: {},
	EmotionCuriosity: {}, EmotionAnticipation: {},
}

// strongNegativeEmotions are the labels that, at high confidence, decay
// interaction quality and comfort.
var strongNegativeEmotions = map[Emotion]struct{}{
	EmotionAnger: {}, EmotionFear: {}, EmotionFrustration: {},
}

// IsPositive reports whether e counts as a positive emotion for
// relationship-delta purposes.
func (e Emotion) IsPositive() bool {
	_, ok := positiveEmotions[e]
	return ok
}

// IsStrongNegative reports whether e counts as a strong negative emotion for
// relationship-delta purposes.
func (e Emotion) IsStrongNegative() bool {
	_, ok := strongNegativeEmotions[e]
	return ok
}

// valences maps each emotion onto a signed strength used by the trajectory
// analyzer. Positive values lift the emotional arc, negative values sink it.
var valences = map[Emotion]float64{
	EmotionJoy:            2.0,
	EmotionExcitement:     1.8,
	EmotionGratitude:      1.5,
	EmotionLove:           2.0,
	EmotionHope:           1.3,
	EmotionContentment:    1.2,
	EmotionAnticipation:   0.9,
	EmotionCuriosity:      0.8,
	EmotionContemplative:  0.2,
	EmotionReflective:     0.1,
	EmotionNeutral:        0,
	EmotionFrustration:    -1.0,
	EmotionDisappointment: -1.2,
	EmotionWorry:          -1.3,
	EmotionSadness:        -1.5,
	EmotionAnxiety:        -1.6,
	EmotionFear:           -1.8,
	EmotionAnger:          -2.0,
}

// Valence returns the signed emotional strength of e. Out-of-set values
// score 0, same as neutral.
func (e Emotion) Valence() float64 {
	return valences[e.Coerce()]
}

// EmotionResult is the output of the emotion analyzer for one utterance.
type EmotionResult struct {
	// Primary is the dominant emotion, always a member of the closed set.
	Primary Emotion

	// Confidence is how certain the analyzer is in Primary, in [0, 1].
	Confidence float64

	// Intensity is the strength of the expressed emotion, in [0, 1].
	Intensity float64

	// AllEmotions maps every scored emotion to its raw score.
	AllEmotions map[Emotion]float64

	// Secondary lists additional emotions that scored close to Primary.
	Secondary []Emotion
}

// NeutralEmotionResult is the zero-signal fallback returned when analysis
// fails. It never causes a pipeline error.
func NeutralEmotionResult() EmotionResult {
	return EmotionResult{Primary: EmotionNeutral}
}

// IsMultiEmotion reports whether the utterance expressed more than one
// distinct emotion.
func (r EmotionResult) IsMultiEmotion() bool {
	return len(r.Secondary) > 0
}
