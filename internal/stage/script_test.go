package stage

import (
	"testing"

	"github.com/veroniica/detector-de-mentiras/internal/domain"
)

func TestFormatTimestamp_RendersMinutesAndSeconds(t *testing.T) {
	cases := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00"},
		{5.4, "00:05"},
		{65, "01:05"},
		{600, "10:00"},
		{-3, "00:00"},
	}
	for _, tc := range cases {
		if got := FormatTimestamp(tc.seconds); got != tc.want {
			t.Fatalf("FormatTimestamp(%v): want=%q got=%q", tc.seconds, tc.want, got)
		}
	}
}

func TestFormatScript_SkipsEmptyLines(t *testing.T) {
	lines := []domain.TranscriptLine{
		{Speaker: "spk_0", StartSec: 10, Text: "yo estaba en mi casa"},
		{Speaker: "spk_1", StartSec: 73, Text: "   "},
		{Speaker: "spk_1", StartSec: 75, Text: "¿a qué hora llegó?"},
	}
	got := FormatScript(lines)
	want := "[00:10] spk_0: yo estaba en mi casa\n[01:15] spk_1: ¿a qué hora llegó?"
	if got != want {
		t.Fatalf("script:\nwant=%q\ngot=%q", want, got)
	}
}

func TestParseScript_GroupsBySpeaker(t *testing.T) {
	script := "[00:10] spk_0: primera frase\n" +
		"[00:20] spk_1: segunda frase\n" +
		"línea sin formato\n" +
		"[00:30] spk_0: tercera frase\n"

	segments := ParseScript(script)
	if len(segments) != 2 {
		t.Fatalf("speakers: want=2 got=%d", len(segments))
	}
	if got := len(segments["spk_0"]); got != 2 {
		t.Fatalf("spk_0 utterances: want=2 got=%d", got)
	}
	u := segments["spk_0"][1]
	if u.Timestamp != "00:30" || u.Text != "tercera frase" {
		t.Fatalf("unexpected utterance: %+v", u)
	}
}

func TestSpeakers_StableOrder(t *testing.T) {
	segments := map[string][]Utterance{
		"spk_2": nil,
		"spk_0": nil,
		"spk_1": nil,
	}
	got := Speakers(segments)
	want := []string{"spk_0", "spk_1", "spk_2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("speakers order: want=%v got=%v", want, got)
		}
	}
}
