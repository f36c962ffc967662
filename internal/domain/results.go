package domain

import "time"

// IngestEvent is the at-least-once ingestion trigger consumed from the
// upload transport. Version defaults to 1 when the transport does not
// track re-uploads.
type IngestEvent struct {
	SourceRef   string    `json:"sourceRef" binding:"required"`
	CaseID      string    `json:"caseId" binding:"required"`
	Version     int       `json:"version"`
	EventTime   time.Time `json:"eventTime"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
}

// TranscriptLine is one speaker turn with its start offset.
type TranscriptLine struct {
	Speaker  string  `json:"speaker"`
	StartSec float64 `json:"startSec"`
	Text     string  `json:"text"`
}

// TranscriptResult is the speaker-attributed, timestamped transcription of
// one interview. Script is the rendered "[MM:SS] speaker: text" form.
type TranscriptResult struct {
	AudioID  string           `json:"audioId"`
	Language string           `json:"language,omitempty"`
	Script   string           `json:"script"`
	Lines    []TranscriptLine `json:"lines,omitempty"`
	Speakers []string         `json:"speakers,omitempty"`
}

type SummaryResult struct {
	AudioID    string   `json:"audioId"`
	KeyPhrases []string `json:"keyPhrases"`
	Summary    string   `json:"summary"`
}

type SentimentScores struct {
	Positive float64 `json:"positive"`
	Negative float64 `json:"negative"`
	Neutral  float64 `json:"neutral"`
	Mixed    float64 `json:"mixed"`
}

// SentimentChunk is the sentiment of a run of consecutive utterances by
// one speaker.
type SentimentChunk struct {
	TimestampRange string          `json:"timestampRange"`
	Text           string          `json:"text"`
	Sentiment      string          `json:"sentiment"`
	Scores         SentimentScores `json:"scores"`
}

type SentimentShift struct {
	FromRange string  `json:"fromTimestamp"`
	ToRange   string  `json:"toTimestamp"`
	Delta     float64 `json:"sentimentChange"`
}

type DeceptionMetrics struct {
	MixedRatio         float64 `json:"mixedSentimentRatio"`
	NegativeRatio      float64 `json:"negativeSentimentRatio"`
	AvgSentimentChange float64 `json:"averageSentimentChange"`
}

// Deception likelihood bands.
const (
	DeceptionLow              = "LOW"
	DeceptionMediumLow        = "MEDIUM_LOW"
	DeceptionMedium           = "MEDIUM"
	DeceptionMediumHigh       = "MEDIUM_HIGH"
	DeceptionHigh             = "HIGH"
	DeceptionInsufficientData = "INSUFFICIENT_DATA"
)

type SpeakerDeception struct {
	Likelihood         string           `json:"deceptionLikelihood"`
	Confidence         float64          `json:"confidence"`
	Explanation        string           `json:"explanation"`
	Metrics            DeceptionMetrics `json:"metrics"`
	SignificantChanges []SentimentShift `json:"significantChanges,omitempty"`
}

type SentimentResult struct {
	AudioID   string                      `json:"audioId"`
	BySpeaker map[string][]SentimentChunk `json:"sentimentAnalysis"`
	Deception map[string]SpeakerDeception `json:"deceptionAnalysis"`
}

// Inconsistency severity levels, as the analysts read them.
const (
	SeverityHigh   = "Alta"
	SeverityMedium = "Media"
	SeverityLow    = "Baja"
)

type Inconsistency struct {
	Description      string            `json:"description"`
	InvolvedAudioIDs []string          `json:"involvedAudioIds"`
	Severity         string            `json:"severity"`
	Statements       map[string]string `json:"statements,omitempty"`
}

type InconsistencyReport struct {
	AnalyzedAudioIDs []string        `json:"analyzedInterviews"`
	TotalInterviews  int             `json:"totalInterviews"`
	Inconsistencies  []Inconsistency `json:"inconsistencies"`
}

// MemberAnalysis bundles the per-file stage outputs the inconsistency
// detector consumes for one completed case member.
type MemberAnalysis struct {
	AudioID    string           `json:"audioId"`
	Transcript TranscriptResult `json:"transcript"`
	Sentiment  SentimentResult  `json:"sentiment"`
	Summary    SummaryResult    `json:"summary"`
}
