package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/veroniica/detector-de-mentiras/internal/domain"
	"github.com/veroniica/detector-de-mentiras/internal/pkg/logger"
)

// SpeechConfig tunes the recognizer for interview audio.
type SpeechConfig struct {
	LanguageCode    string
	Model           string
	UseEnhanced     bool
	MinSpeakerCount int
	MaxSpeakerCount int
}

// SpeechTranscriber runs speaker-diarized transcription through Google
// Cloud Speech-to-Text. The audio itself lives in blob storage; sourceRef
// must be a gs:// URI.
type SpeechTranscriber struct {
	log    *logger.Logger
	client *speech.Client
	cfg    SpeechConfig
}

func NewSpeechTranscriber(ctx context.Context, baseLog *logger.Logger, cfg SpeechConfig) (*SpeechTranscriber, error) {
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "es-ES"
	}
	if cfg.MinSpeakerCount <= 0 {
		cfg.MinSpeakerCount = 2
	}
	if cfg.MaxSpeakerCount <= 0 {
		cfg.MaxSpeakerCount = 4
	}
	c, err := speech.NewClient(ctx, clientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return &SpeechTranscriber{
		log:    baseLog.With("stage", NameTranscribe, "provider", "gcp_speech"),
		client: c,
		cfg:    cfg,
	}, nil
}

func (t *SpeechTranscriber) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}

// Transcribe implements TranscribeFunc. Failures carry their retry
// classification so the executor can decide whether to back off or give
// up; it never retries here itself.
func (t *SpeechTranscriber) Transcribe(ctx context.Context, audioID, sourceRef string) (*domain.TranscriptResult, error) {
	if !strings.HasPrefix(sourceRef, "gs://") {
		return nil, Permanent(fmt.Errorf("sourceRef must be a gs:// URI, got %q", sourceRef))
	}

	req := &speechpb.LongRunningRecognizeRequest{
		Config: t.recognitionConfig(sourceRef),
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Uri{Uri: sourceRef},
		},
	}

	op, err := t.client.LongRunningRecognize(ctx, req)
	if err != nil {
		return nil, classifyGRPC(fmt.Errorf("speech longrunningrecognize: %w", err))
	}
	resp, err := op.Wait(ctx)
	if err != nil {
		return nil, classifyGRPC(fmt.Errorf("speech operation wait: %w", err))
	}

	lines := diarizedLines(resp)
	if len(lines) == 0 {
		return nil, Permanent(fmt.Errorf("audio %s: recognizer produced no speech", audioID))
	}

	seen := map[string]bool{}
	var speakers []string
	for _, ln := range lines {
		if !seen[ln.Speaker] {
			seen[ln.Speaker] = true
			speakers = append(speakers, ln.Speaker)
		}
	}

	return &domain.TranscriptResult{
		AudioID:  audioID,
		Language: t.cfg.LanguageCode,
		Script:   FormatScript(lines),
		Lines:    lines,
		Speakers: speakers,
	}, nil
}

func (t *SpeechTranscriber) recognitionConfig(sourceRef string) *speechpb.RecognitionConfig {
	return &speechpb.RecognitionConfig{
		LanguageCode:               t.cfg.LanguageCode,
		Model:                      t.cfg.Model,
		UseEnhanced:                t.cfg.UseEnhanced,
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      true,
		Encoding:                   inferEncoding(sourceRef),
		DiarizationConfig: &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          int32(t.cfg.MinSpeakerCount),
			MaxSpeakerCount:          int32(t.cfg.MaxSpeakerCount),
		},
	}
}

func inferEncoding(sourceRef string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToLower(filepath.Ext(sourceRef)) {
	case ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	case ".flac":
		return speechpb.RecognitionConfig_FLAC
	case ".mp3":
		return speechpb.RecognitionConfig_MP3
	case ".ogg", ".opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

// diarizedLines folds word-level results into speaker turns. The last
// result of a diarized response carries speaker tags for every word.
func diarizedLines(resp *speechpb.LongRunningRecognizeResponse) []domain.TranscriptLine {
	if resp == nil || len(resp.Results) == 0 {
		return nil
	}

	var words []*speechpb.WordInfo
	last := resp.Results[len(resp.Results)-1]
	if last != nil && len(last.Alternatives) > 0 && last.Alternatives[0] != nil && len(last.Alternatives[0].Words) > 0 {
		words = last.Alternatives[0].Words
	}

	if len(words) == 0 {
		// No diarization info; fall back to one line per result.
		var lines []domain.TranscriptLine
		for _, r := range resp.Results {
			if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
				continue
			}
			txt := strings.TrimSpace(r.Alternatives[0].Transcript)
			if txt == "" {
				continue
			}
			start := 0.0
			if rt := r.GetResultEndTime(); rt != nil {
				start = rt.AsDuration().Seconds()
			}
			lines = append(lines, domain.TranscriptLine{Speaker: "spk_0", StartSec: start, Text: txt})
		}
		return lines
	}

	var lines []domain.TranscriptLine
	curSpeaker := ""
	curStart := 0.0
	var buf strings.Builder
	flush := func() {
		txt := strings.TrimSpace(buf.String())
		if txt != "" {
			lines = append(lines, domain.TranscriptLine{Speaker: curSpeaker, StartSec: curStart, Text: txt})
		}
		buf.Reset()
	}
	for _, w := range words {
		if w == nil || strings.TrimSpace(w.Word) == "" {
			continue
		}
		speaker := fmt.Sprintf("spk_%d", w.SpeakerTag)
		start := 0.0
		if w.StartTime != nil {
			start = w.StartTime.AsDuration().Seconds()
		}
		if speaker != curSpeaker {
			flush()
			curSpeaker = speaker
			curStart = start
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(w.Word)
	}
	flush()
	return lines
}

// classifyGRPC maps recognizer errors onto the retry taxonomy: quota and
// availability problems are transient, bad requests are permanent.
func classifyGRPC(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return Transient(err)
	}
	switch st.Code() {
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.FailedPrecondition:
		return Permanent(err)
	default:
		return Transient(err)
	}
}

func clientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}
