package stage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/veroniica/detector-de-mentiras/internal/domain"
)

// Utterance is one parsed script line for a single speaker.
type Utterance struct {
	Timestamp string
	Text      string
}

// FormatScript renders transcript lines in the interview script form the
// analysts and downstream stages consume:
//
//	[MM:SS] spk_0: así fue como llegué al lugar
func FormatScript(lines []domain.TranscriptLine) string {
	var b strings.Builder
	for i, ln := range lines {
		if strings.TrimSpace(ln.Text) == "" {
			continue
		}
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s", FormatTimestamp(ln.StartSec), ln.Speaker, ln.Text))
	}
	return b.String()
}

// FormatTimestamp renders seconds as MM:SS.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// ParseScript splits a "[MM:SS] speaker: text" script into per-speaker
// utterances. Lines that do not match the shape are skipped.
func ParseScript(script string) map[string][]Utterance {
	segments := map[string][]Utterance{}
	for _, line := range strings.Split(strings.TrimSpace(script), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, "]") || !strings.Contains(line, ":") {
			continue
		}
		tsEnd := strings.Index(line, "]")
		if !strings.HasPrefix(line, "[") || tsEnd < 0 {
			continue
		}
		timestamp := strings.TrimSpace(line[1:tsEnd])
		rest := strings.TrimSpace(line[tsEnd+1:])
		sep := strings.Index(rest, ":")
		if sep < 0 {
			continue
		}
		speaker := strings.TrimSpace(rest[:sep])
		text := strings.TrimSpace(rest[sep+1:])
		if speaker == "" || text == "" {
			continue
		}
		segments[speaker] = append(segments[speaker], Utterance{Timestamp: timestamp, Text: text})
	}
	return segments
}

// Speakers returns the speaker labels of a parsed script in stable order.
func Speakers(segments map[string][]Utterance) []string {
	out := make([]string, 0, len(segments))
	for sp := range segments {
		out = append(out, sp)
	}
	sort.Strings(out)
	return out
}
