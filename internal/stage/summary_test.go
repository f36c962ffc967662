package stage

import (
	"context"
	"strings"
	"testing"

	"github.com/veroniica/detector-de-mentiras/internal/domain"
	"github.com/veroniica/detector-de-mentiras/internal/pkg/logger"
)

func TestSummarizer_EmptyTranscriptIsPermanent(t *testing.T) {
	s := NewSummarizer(logger.NewNop())
	_, err := s.Summarize(context.Background(), "audio-1", &domain.TranscriptResult{Script: ""})
	if err == nil {
		t.Fatal("expected error for empty transcript")
	}
	if KindOf(err) != KindPermanent {
		t.Fatalf("error kind: want=%s got=%s", KindPermanent, KindOf(err))
	}
}

func TestSummarizer_KeyPhrasesByFrequency(t *testing.T) {
	script := "[00:10] spk_0: el sospechoso llevaba una pistola\n" +
		"[00:20] spk_1: vi al sospechoso cerca del mercado\n" +
		"[00:30] spk_0: el sospechoso corrió hacia el mercado\n"

	s := NewSummarizer(logger.NewNop())
	res, err := s.Summarize(context.Background(), "audio-1", &domain.TranscriptResult{Script: script})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}

	if len(res.KeyPhrases) == 0 || len(res.KeyPhrases) > maxKeyPhrases {
		t.Fatalf("key phrase count out of range: %d", len(res.KeyPhrases))
	}
	if res.KeyPhrases[0] != "sospechoso" {
		t.Fatalf("top phrase: want=%q got=%q", "sospechoso", res.KeyPhrases[0])
	}
	for _, p := range res.KeyPhrases {
		if len(p) < 4 {
			t.Fatalf("short token leaked into key phrases: %q", p)
		}
	}
}

func TestSummarizer_AbstractNamesEachSpeaker(t *testing.T) {
	script := "[00:10] spk_0: yo llegué primero al lugar\n" +
		"[00:20] spk_1: yo no escuché nada\n"

	s := NewSummarizer(logger.NewNop())
	res, err := s.Summarize(context.Background(), "audio-1", &domain.TranscriptResult{Script: script})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if !strings.Contains(res.Summary, "2 interlocutor(es)") {
		t.Fatalf("summary missing speaker count: %q", res.Summary)
	}
	for _, sp := range []string{"spk_0", "spk_1"} {
		if !strings.Contains(res.Summary, sp) {
			t.Fatalf("summary missing %s: %q", sp, res.Summary)
		}
	}
}
