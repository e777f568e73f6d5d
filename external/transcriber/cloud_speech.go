package transcriber

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"google.golang.org/api/option"

	"github.com/intellecta-lk/attendee/internal/transcription"
)

const speechAPIEndpointPort = 443

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Language        string
	Location        string
	Model           string
}

// CloudSpeechProvider transcribes finalized audio segments with the Google
// Cloud Speech-to-Text v2 batch API. Segments are short (bounded by the
// aggregation window) so synchronous recognition is sufficient.
type CloudSpeechProvider struct {
	projectID       string
	credentialsJSON string
	defaultLanguage string
	location        string
	model           string
}

func NewCloudSpeechProvider(cfg CloudSpeechConfig) transcription.Provider {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "global"
	}

	return &CloudSpeechProvider{
		projectID:       cfg.ProjectID,
		credentialsJSON: cfg.CredentialsJSON,
		defaultLanguage: cfg.Language,
		location:        location,
		model:           strings.TrimSpace(cfg.Model),
	}
}

func (p *CloudSpeechProvider) Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (*transcription.Result, error) {
	if language == "" {
		language = p.defaultLanguage
	}

	client, err := p.newClient(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = client.Close()
	}()

	resp, err := client.Recognize(ctx, &speechpb.RecognizeRequest{
		Recognizer: fmt.Sprintf("projects/%s/locations/%s/recognizers/_", p.projectID, p.location),
		Config: &speechpb.RecognitionConfig{
			Model:         p.model,
			LanguageCodes: []string{language},
			DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
				ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
					Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
					SampleRateHertz:   int32(sampleRate),
					AudioChannelCount: 1,
				},
			},
			Features: &speechpb.RecognitionFeatures{
				EnableWordTimeOffsets: true,
				EnableWordConfidence:  true,
			},
		},
		AudioSource: &speechpb.RecognizeRequest_Content{Content: pcm},
	})
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}

	result := &transcription.Result{}
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		best := alts[0]
		if result.Transcript != "" {
			result.Transcript += " "
		}
		result.Transcript += best.GetTranscript()
		if c := float64(best.GetConfidence()); c > result.Confidence {
			result.Confidence = c
		}
		for _, w := range best.GetWords() {
			result.Words = append(result.Words, transcription.Word{
				Word:       w.GetWord(),
				StartMs:    w.GetStartOffset().AsDuration().Milliseconds(),
				EndMs:      w.GetEndOffset().AsDuration().Milliseconds(),
				Confidence: float64(w.GetConfidence()),
			})
		}
	}
	return result, nil
}

func (p *CloudSpeechProvider) newClient(ctx context.Context) (*speech.Client, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(p.credentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}

	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if p.location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", p.location, speechAPIEndpointPort)))
	}
	return speech.NewClient(ctx, opts...)
}
