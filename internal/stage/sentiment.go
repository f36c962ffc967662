package stage

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/veroniica/detector-de-mentiras/internal/domain"
	"github.com/veroniica/detector-de-mentiras/internal/pkg/logger"
)

// Sentiment labels.
const (
	SentimentPositive = "POSITIVE"
	SentimentNegative = "NEGATIVE"
	SentimentNeutral  = "NEUTRAL"
	SentimentMixed    = "MIXED"
)

// sentimentChunkSize groups consecutive utterances per speaker before
// scoring, so short back-channel turns don't drown the signal.
const sentimentChunkSize = 5

// significantShiftThreshold flags consecutive-chunk sentiment deltas worth
// surfacing to the analyst.
const significantShiftThreshold = 0.5

// SentimentAnalyzer scores per-speaker sentiment over an interview script
// and derives deception signals from tone variation. It is a lexicon-based
// stand-in with the same output contract as the hosted model, which lets
// the pipeline run end to end without external inference.
type SentimentAnalyzer struct {
	log *logger.Logger

	positive map[string]struct{}
	negative map[string]struct{}
}

func NewSentimentAnalyzer(baseLog *logger.Logger) *SentimentAnalyzer {
	return &SentimentAnalyzer{
		log:      baseLog.With("stage", NameSentiment),
		positive: wordSet(positiveWords),
		negative: wordSet(negativeWords),
	}
}

// Analyze implements SentimentFunc.
func (a *SentimentAnalyzer) Analyze(ctx context.Context, audioID string, tr *domain.TranscriptResult) (*domain.SentimentResult, error) {
	if tr == nil || strings.TrimSpace(tr.Script) == "" {
		return nil, Permanent(fmt.Errorf("audio %s: empty transcript", audioID))
	}
	if err := ctx.Err(); err != nil {
		return nil, Transient(err)
	}

	segments := ParseScript(tr.Script)
	if len(segments) == 0 {
		return nil, Permanent(fmt.Errorf("audio %s: transcript has no parseable speaker turns", audioID))
	}

	bySpeaker := map[string][]domain.SentimentChunk{}
	for _, speaker := range Speakers(segments) {
		utterances := segments[speaker]
		var chunks []domain.SentimentChunk
		for i := 0; i < len(utterances); i += sentimentChunkSize {
			end := i + sentimentChunkSize
			if end > len(utterances) {
				end = len(utterances)
			}
			group := utterances[i:end]
			texts := make([]string, 0, len(group))
			for _, u := range group {
				texts = append(texts, u.Text)
			}
			text := strings.TrimSpace(strings.Join(texts, " "))
			if text == "" {
				continue
			}
			label, scores := a.scoreText(text)
			chunks = append(chunks, domain.SentimentChunk{
				TimestampRange: group[0].Timestamp + " - " + group[len(group)-1].Timestamp,
				Text:           text,
				Sentiment:      label,
				Scores:         scores,
			})
		}
		bySpeaker[speaker] = chunks
	}

	return &domain.SentimentResult{
		AudioID:   audioID,
		BySpeaker: bySpeaker,
		Deception: analyzeDeception(bySpeaker),
	}, nil
}

// scoreText produces a sentiment label plus a score quad for one chunk.
func (a *SentimentAnalyzer) scoreText(text string) (string, domain.SentimentScores) {
	words := tokenize(text)
	if len(words) == 0 {
		return SentimentNeutral, domain.SentimentScores{Neutral: 1}
	}
	var pos, neg float64
	negated := false
	for _, w := range words {
		if isNegation(w) {
			negated = true
			continue
		}
		_, isPos := a.positive[w]
		_, isNeg := a.negative[w]
		if negated {
			isPos, isNeg = isNeg, isPos
			negated = false
		}
		if isPos {
			pos++
		}
		if isNeg {
			neg++
		}
	}
	total := float64(len(words))
	posRatio := pos / total
	negRatio := neg / total
	neutral := 1 - posRatio - negRatio
	if neutral < 0 {
		neutral = 0
	}
	mixed := 0.0
	if pos > 0 && neg > 0 {
		mixed = math.Min(posRatio, negRatio) * 2
	}

	scores := domain.SentimentScores{
		Positive: round3(posRatio),
		Negative: round3(negRatio),
		Neutral:  round3(neutral),
		Mixed:    round3(mixed),
	}

	switch {
	case mixed >= 0.08:
		return SentimentMixed, scores
	case negRatio > posRatio && negRatio > 0:
		return SentimentNegative, scores
	case posRatio > negRatio && posRatio > 0:
		return SentimentPositive, scores
	default:
		return SentimentNeutral, scores
	}
}

// analyzeDeception turns per-chunk sentiment into a per-speaker deception
// estimate. Score weights: mixed ratio 0.4, negative ratio 0.3, average
// sentiment change 0.3.
func analyzeDeception(bySpeaker map[string][]domain.SentimentChunk) map[string]domain.SpeakerDeception {
	out := map[string]domain.SpeakerDeception{}
	for speaker, chunks := range bySpeaker {
		if len(chunks) < 2 {
			out[speaker] = domain.SpeakerDeception{
				Likelihood:  domain.DeceptionInsufficientData,
				Confidence:  0,
				Explanation: "Insufficient data to analyze deception",
			}
			continue
		}

		var shifts []domain.SentimentShift
		mixed, negative := 0, 0
		for i, c := range chunks {
			switch c.Sentiment {
			case SentimentMixed:
				mixed++
			case SentimentNegative:
				negative++
			}
			if i > 0 {
				prev := chunks[i-1]
				delta := math.Abs(c.Scores.Positive-prev.Scores.Positive) +
					math.Abs(c.Scores.Negative-prev.Scores.Negative)
				shifts = append(shifts, domain.SentimentShift{
					FromRange: prev.TimestampRange,
					ToRange:   c.TimestampRange,
					Delta:     round3(delta),
				})
			}
		}

		total := float64(len(chunks))
		mixedRatio := float64(mixed) / total
		negativeRatio := float64(negative) / total
		avgChange := 0.0
		for _, s := range shifts {
			avgChange += s.Delta
		}
		if len(shifts) > 0 {
			avgChange /= float64(len(shifts))
		}

		score := mixedRatio*0.4 + negativeRatio*0.3 + avgChange*0.3
		likelihood, confidence, explanation := deceptionBand(score)

		var significant []domain.SentimentShift
		for _, s := range shifts {
			if s.Delta > significantShiftThreshold {
				significant = append(significant, s)
			}
		}

		out[speaker] = domain.SpeakerDeception{
			Likelihood:  likelihood,
			Confidence:  confidence,
			Explanation: explanation,
			Metrics: domain.DeceptionMetrics{
				MixedRatio:         round3(mixedRatio),
				NegativeRatio:      round3(negativeRatio),
				AvgSentimentChange: round3(avgChange),
			},
			SignificantChanges: significant,
		}
	}
	return out
}

func deceptionBand(score float64) (likelihood string, confidence float64, explanation string) {
	switch {
	case score < 0.2:
		return domain.DeceptionLow, 0.7, "Consistent sentiment patterns suggest truthfulness"
	case score < 0.4:
		return domain.DeceptionMediumLow, 0.6, "Some minor inconsistencies in sentiment patterns"
	case score < 0.6:
		return domain.DeceptionMedium, 0.5, "Moderate sentiment variations detected"
	case score < 0.8:
		return domain.DeceptionMediumHigh, 0.6, "Significant sentiment variations and mixed emotions detected"
	default:
		return domain.DeceptionHigh, 0.7, "Strong indicators of deception in sentiment patterns"
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r == 'ñ' || r == 'á' || r == 'é' || r == 'í' || r == 'ó' || r == 'ú' ||
			r == 'ü' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
	return fields
}

func isNegation(w string) bool {
	switch w {
	case "no", "nunca", "jamás", "jamas", "tampoco", "not", "never":
		return true
	}
	return false
}

func wordSet(words []string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

var positiveWords = []string{
	"bien", "bueno", "buena", "tranquilo", "tranquila", "seguro", "segura",
	"claro", "clara", "cierto", "verdad", "honesto", "honesta", "amable",
	"feliz", "contento", "contenta", "calma", "confío", "confio",
	"good", "fine", "sure", "true", "honest", "calm", "happy",
}

var negativeWords = []string{
	"mal", "malo", "mala", "miedo", "nervioso", "nerviosa", "culpa",
	"culpable", "mentira", "mentiroso", "mentirosa", "arma", "sangre",
	"muerte", "muerto", "muerta", "víctima", "victima", "amenaza",
	"robo", "robó", "golpe", "gritos", "miente", "sospechoso",
	"bad", "fear", "nervous", "guilt", "guilty", "lie", "weapon", "blood",
	"death", "dead", "victim", "threat",
}
