package stage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/veroniica/detector-de-mentiras/internal/domain"
	"github.com/veroniica/detector-de-mentiras/internal/pkg/logger"
)

// factKeywords are the terms that tend to carry checkable facts in an
// interview. A pair of interviews that both touch one of these is worth
// comparing.
var factKeywords = []string{
	"hora", "lugar", "vio", "escuchó", "escucho", "testigo",
	"arma", "víctima", "victima", "sospechoso",
}

// similarityContradictionCeiling: two statements about the same keyword
// that diverge this much (normalized levenshtein similarity below the
// ceiling) are flagged as a potential contradiction.
const similarityContradictionCeiling = 0.55

// InconsistencyDetector cross-checks the completed interviews of a case
// pairwise. It is the keyword/edit-distance fallback analysis; the hosted
// model can be swapped in behind the same DetectFunc contract.
type InconsistencyDetector struct {
	log *logger.Logger
}

func NewInconsistencyDetector(baseLog *logger.Logger) *InconsistencyDetector {
	return &InconsistencyDetector{log: baseLog.With("stage", NameInconsistency)}
}

// Detect implements DetectFunc. It is a pure function of the member set:
// members are re-sorted by audio id so the report never depends on
// completion order.
func (d *InconsistencyDetector) Detect(_ context.Context, caseID string, members []domain.MemberAnalysis) (*domain.InconsistencyReport, error) {
	sorted := make([]domain.MemberAnalysis, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AudioID < sorted[j].AudioID })

	ids := make([]string, 0, len(sorted))
	for _, m := range sorted {
		ids = append(ids, m.AudioID)
	}

	report := &domain.InconsistencyReport{
		AnalyzedAudioIDs: ids,
		TotalInterviews:  len(sorted),
		Inconsistencies:  []domain.Inconsistency{},
	}
	if len(sorted) < 2 {
		return report, nil
	}

	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			report.Inconsistencies = append(report.Inconsistencies,
				comparePair(caseID, sorted[i], sorted[j])...)
		}
	}
	return report, nil
}

// comparePair inspects two interviews keyword by keyword. A negation
// mismatch (one affirms, the other denies) is high severity; strongly
// diverging statements are medium.
func comparePair(caseID string, a, b domain.MemberAnalysis) []domain.Inconsistency {
	var out []domain.Inconsistency
	sentencesA := splitSentences(a.Transcript.Script)
	sentencesB := splitSentences(b.Transcript.Script)

	for _, keyword := range factKeywords {
		sa := firstMentioning(sentencesA, keyword)
		sb := firstMentioning(sentencesB, keyword)
		if sa == "" || sb == "" {
			continue
		}

		negA, negB := mentionsNegated(sa, keyword), mentionsNegated(sb, keyword)
		similarity := statementSimilarity(sa, sb)

		switch {
		case negA != negB:
			out = append(out, domain.Inconsistency{
				Description: fmt.Sprintf(
					"Contradicción directa sobre '%s' entre las entrevistas %s y %s del caso %s: una declaración afirma y la otra niega",
					keyword, a.AudioID, b.AudioID, caseID),
				InvolvedAudioIDs: []string{a.AudioID, b.AudioID},
				Severity:         domain.SeverityHigh,
				Statements:       map[string]string{a.AudioID: sa, b.AudioID: sb},
			})
		case similarity < similarityContradictionCeiling:
			out = append(out, domain.Inconsistency{
				Description: fmt.Sprintf(
					"Posible inconsistencia sobre '%s' entre las entrevistas %s y %s",
					keyword, a.AudioID, b.AudioID),
				InvolvedAudioIDs: []string{a.AudioID, b.AudioID},
				Severity:         domain.SeverityMedium,
				Statements:       map[string]string{a.AudioID: sa, b.AudioID: sb},
			})
		}
	}
	return out
}

func splitSentences(script string) []string {
	var out []string
	for _, line := range strings.Split(script, "\n") {
		// Strip the "[MM:SS] speaker:" prefix so only spoken text is compared.
		if idx := strings.Index(line, "]"); idx >= 0 {
			line = line[idx+1:]
		}
		if idx := strings.Index(line, ":"); idx >= 0 {
			line = line[idx+1:]
		}
		for _, sentence := range strings.Split(line, ".") {
			sentence = strings.TrimSpace(sentence)
			if sentence != "" {
				out = append(out, sentence)
			}
		}
	}
	return out
}

func firstMentioning(sentences []string, keyword string) string {
	for _, s := range sentences {
		if strings.Contains(strings.ToLower(s), keyword) {
			return s
		}
	}
	return ""
}

// mentionsNegated reports whether the keyword appears under a negation in
// the sentence ("no vi a nadie" vs "vi al sospechoso").
func mentionsNegated(sentence, keyword string) bool {
	words := tokenize(sentence)
	for i, w := range words {
		if !strings.Contains(w, keyword) && w != keyword {
			continue
		}
		for back := i - 1; back >= 0 && back >= i-3; back-- {
			if isNegation(words[back]) {
				return true
			}
		}
	}
	return false
}

// statementSimilarity is a normalized levenshtein ratio over the two
// sentences, 1.0 meaning identical.
func statementSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" && b == "" {
		return 1
	}
	return levenshtein.RatioForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
}
