package stage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/veroniica/detector-de-mentiras/internal/domain"
	"github.com/veroniica/detector-de-mentiras/internal/pkg/logger"
)

// FileTranscriber reads an already-prepared "[MM:SS] speaker: text" script
// from the local filesystem instead of calling a recognizer. It serves
// local runs and pipeline rehearsals where the sourceRef points at a
// sidecar script (file://path or plain path).
type FileTranscriber struct {
	log *logger.Logger
}

func NewFileTranscriber(baseLog *logger.Logger) *FileTranscriber {
	return &FileTranscriber{log: baseLog.With("stage", NameTranscribe, "provider", "file")}
}

// Transcribe implements TranscribeFunc.
func (t *FileTranscriber) Transcribe(ctx context.Context, audioID, sourceRef string) (*domain.TranscriptResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient(err)
	}
	path := strings.TrimPrefix(sourceRef, "file://")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Permanent(fmt.Errorf("audio %s: script %q not found", audioID, path))
		}
		return nil, Transient(fmt.Errorf("audio %s: read script: %w", audioID, err))
	}

	script := strings.TrimSpace(string(raw))
	segments := ParseScript(script)
	if len(segments) == 0 {
		return nil, Permanent(fmt.Errorf("audio %s: script %q has no parseable lines", audioID, path))
	}

	var lines []domain.TranscriptLine
	for _, sp := range Speakers(segments) {
		for _, u := range segments[sp] {
			lines = append(lines, domain.TranscriptLine{
				Speaker:  sp,
				StartSec: parseTimestamp(u.Timestamp),
				Text:     u.Text,
			})
		}
	}

	return &domain.TranscriptResult{
		AudioID:  audioID,
		Script:   script,
		Lines:    lines,
		Speakers: Speakers(segments),
	}, nil
}

func parseTimestamp(ts string) float64 {
	parts := strings.SplitN(ts, ":", 2)
	if len(parts) != 2 {
		return 0
	}
	var m, s int
	if _, err := fmt.Sscanf(parts[0]+" "+parts[1], "%d %d", &m, &s); err != nil {
		return 0
	}
	return float64(m*60 + s)
}
