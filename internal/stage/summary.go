package stage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/veroniica/detector-de-mentiras/internal/domain"
	"github.com/veroniica/detector-de-mentiras/internal/pkg/logger"
)

// maxKeyPhrases caps the key-phrase list on the summary.
const maxKeyPhrases = 10

// Summarizer extracts key phrases and a short abstract from one interview
// transcript. Frequency-based, deterministic, same contract as the hosted
// summarization model.
type Summarizer struct {
	log *logger.Logger

	stopwords map[string]struct{}
}

func NewSummarizer(baseLog *logger.Logger) *Summarizer {
	return &Summarizer{
		log:       baseLog.With("stage", NameSummary),
		stopwords: wordSet(stopwords),
	}
}

// Summarize implements SummarizeFunc.
func (s *Summarizer) Summarize(ctx context.Context, audioID string, tr *domain.TranscriptResult) (*domain.SummaryResult, error) {
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

	return &domain.SummaryResult{
		AudioID:    audioID,
		KeyPhrases: s.keyPhrases(segments),
		Summary:    s.abstract(segments),
	}, nil
}

// keyPhrases returns the most frequent non-stopword terms, most frequent
// first, ties broken alphabetically so output is stable.
func (s *Summarizer) keyPhrases(segments map[string][]Utterance) []string {
	freq := map[string]int{}
	for _, utterances := range segments {
		for _, u := range utterances {
			for _, w := range tokenize(u.Text) {
				if len(w) < 4 {
					continue
				}
				if _, skip := s.stopwords[w]; skip {
					continue
				}
				freq[w]++
			}
		}
	}
	terms := make([]string, 0, len(freq))
	for w := range freq {
		terms = append(terms, w)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > maxKeyPhrases {
		terms = terms[:maxKeyPhrases]
	}
	return terms
}

// abstract builds a short per-speaker digest: speaker count, turn counts
// and each speaker's opening statement.
func (s *Summarizer) abstract(segments map[string][]Utterance) string {
	speakers := Speakers(segments)
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Entrevista con %d interlocutor(es).", len(speakers)))
	for _, sp := range speakers {
		utterances := segments[sp]
		if len(utterances) == 0 {
			continue
		}
		first := utterances[0].Text
		if len(first) > 160 {
			first = first[:160] + "..."
		}
		b.WriteString(fmt.Sprintf(" %s (%d intervenciones) comienza: \"%s\".", sp, len(utterances), first))
	}
	return b.String()
}

var stopwords = []string{
	"para", "pero", "porque", "como", "cuando", "donde", "entonces",
	"esta", "este", "esto", "estaba", "estar", "eran", "habia", "había",
	"hace", "hacia", "más", "menos", "mucho", "muy", "nada", "osea",
	"otra", "otro", "pues", "sobre", "también", "tambien", "tenía",
	"tenia", "tiene", "toda", "todo", "una", "unas", "unos", "usted",
	"that", "this", "with", "from", "there", "were", "have", "then",
	"about", "what", "when", "where",
}
