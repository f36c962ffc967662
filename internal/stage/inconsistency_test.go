package stage

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/veroniica/detector-de-mentiras/internal/domain"
	"github.com/veroniica/detector-de-mentiras/internal/pkg/logger"
)

func memberWithScript(audioID, script string) domain.MemberAnalysis {
	return domain.MemberAnalysis{
		AudioID:    audioID,
		Transcript: domain.TranscriptResult{AudioID: audioID, Script: script},
	}
}

func TestDetect_SingleInterviewYieldsEmptyReport(t *testing.T) {
	d := NewInconsistencyDetector(logger.NewNop())
	rep, err := d.Detect(context.Background(), "case-1", []domain.MemberAnalysis{
		memberWithScript("audio-a", "[00:10] spk_0: vi al sospechoso"),
	})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if rep.TotalInterviews != 1 {
		t.Fatalf("total interviews: want=1 got=%d", rep.TotalInterviews)
	}
	if len(rep.Inconsistencies) != 0 {
		t.Fatalf("inconsistencies: want=0 got=%d", len(rep.Inconsistencies))
	}
}

func TestDetect_NegationMismatchIsHighSeverity(t *testing.T) {
	a := memberWithScript("audio-a", "[00:10] spk_0: yo vi al sospechoso en el parque")
	b := memberWithScript("audio-b", "[00:12] spk_0: no vi al sospechoso esa noche")

	d := NewInconsistencyDetector(logger.NewNop())
	rep, err := d.Detect(context.Background(), "case-1", []domain.MemberAnalysis{a, b})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(rep.Inconsistencies) == 0 {
		t.Fatal("expected at least one inconsistency")
	}

	var found *domain.Inconsistency
	for i := range rep.Inconsistencies {
		if rep.Inconsistencies[i].Severity == domain.SeverityHigh {
			found = &rep.Inconsistencies[i]
			break
		}
	}
	if found == nil {
		t.Fatalf("no high-severity inconsistency in %+v", rep.Inconsistencies)
	}
	if len(found.InvolvedAudioIDs) != 2 ||
		found.InvolvedAudioIDs[0] != "audio-a" || found.InvolvedAudioIDs[1] != "audio-b" {
		t.Fatalf("involved ids: got=%v", found.InvolvedAudioIDs)
	}
	if found.Statements["audio-a"] == "" || found.Statements["audio-b"] == "" {
		t.Fatalf("statements missing: %+v", found.Statements)
	}
}

func TestDetect_PureFunctionOfMemberSet(t *testing.T) {
	a := memberWithScript("audio-a", "[00:10] spk_0: la víctima estaba sola en el lugar")
	b := memberWithScript("audio-b", "[00:15] spk_0: había tres personas con la víctima")

	d := NewInconsistencyDetector(logger.NewNop())
	forward, err := d.Detect(context.Background(), "case-1", []domain.MemberAnalysis{a, b})
	if err != nil {
		t.Fatalf("detect forward: %v", err)
	}
	reversed, err := d.Detect(context.Background(), "case-1", []domain.MemberAnalysis{b, a})
	if err != nil {
		t.Fatalf("detect reversed: %v", err)
	}
	if diff := cmp.Diff(forward, reversed); diff != "" {
		t.Fatalf("report depends on member order (-forward +reversed):\n%s", diff)
	}
}

func TestMentionsNegated_LooksBackThreeWords(t *testing.T) {
	if !mentionsNegated("no vi al sospechoso", "sospechoso") {
		t.Fatal("negation within three words should be detected")
	}
	if mentionsNegated("yo vi al sospechoso", "sospechoso") {
		t.Fatal("affirmed mention flagged as negated")
	}
	if mentionsNegated("no recuerdo si alguien más vio al sospechoso", "sospechoso") {
		t.Fatal("negation beyond the lookback window should be ignored")
	}
}
