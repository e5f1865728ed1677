// Package coqui provides a tts.Provider backed by a locally running Coqui TTS
// server. Its voices are reported as local, so the synthesis engine prefers
// them when one matches the requested language.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is GET /api/tts with query
//     parameters; the voice catalogue comes from GET /details.
//
//   - APIModeXTTS: the Coqui XTTS v2 API server. Synthesis is
//     POST /tts_to_audio/ with a JSON body; the voice catalogue comes from
//     GET /studio_speakers.
//
// Both servers answer with a WAV file, which is returned unchanged.
//
//	p, _ := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
//	speech, err := p.Synthesize(ctx, tts.SpeechRequest{Text: "Hello"})
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/MrWong99/voxtutor/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage        = "en"
	defaultTimeout         = 30 * time.Second
	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the server and reported on the
// voice catalogue (e.g., "en", "de-DE"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// Provider implements tts.Provider. It is safe for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
}

// New creates a Provider for the server at serverURL
// (e.g., "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if p.apiMode != APIModeStandard && p.apiMode != APIModeXTTS {
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.apiMode)
	}
	return p, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// detailsResponse is the JSON body returned by GET /details (standard mode).
// Speakers is nil for single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// ── Synthesize ──────────────────────────────────────────────────────────────

// Synthesize implements tts.Provider. Speed, pitch and format are not
// supported by the Coqui servers; the result is always WAV.
func (p *Provider) Synthesize(ctx context.Context, req tts.SpeechRequest) (*tts.Speech, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, tts.ErrEmptyText
	}
	lang := req.Lang
	if lang == "" {
		lang = p.language
	}
	lang = primaryTag(lang)

	var (
		httpReq  *http.Request
		err      error
		endpoint string
	)
	if p.apiMode == APIModeXTTS {
		endpoint = ttsEndpoint
		if req.Voice == "" {
			return nil, errors.New("coqui: xtts mode requires a voice")
		}
		data, mErr := json.Marshal(ttsRequest{Text: req.Text, SpeakerWav: req.Voice, Language: lang})
		if mErr != nil {
			return nil, fmt.Errorf("coqui: marshal tts request: %w", mErr)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+endpoint, bytes.NewReader(data))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
	} else {
		endpoint = apiTTSEndpoint
		params := url.Values{}
		params.Set("text", req.Text)
		if req.Voice != "" {
			params.Set("speaker_id", req.Voice)
		}
		if lang != "" {
			params.Set("language_id", lang)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", httpReq.Method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", httpReq.Method, endpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, errors.New("coqui: response is not a WAV file")
	}
	return &tts.Speech{Audio: wav, Format: tts.FormatWAV}, nil
}

// ── ListVoices ──────────────────────────────────────────────────────────────

// ListVoices implements tts.Provider. Every voice is local.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	endpoint := detailsEndpoint
	if p.apiMode == APIModeXTTS {
		endpoint = studioSpeakersEndpoint
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", endpoint, resp.StatusCode)
	}

	lang := p.language
	var names []string
	if p.apiMode == APIModeXTTS {
		var raw map[string]json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return nil, fmt.Errorf("coqui: decode studio speakers: %w", err)
		}
		for name := range raw {
			names = append(names, name)
		}
	} else {
		var details detailsResponse
		if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
			return nil, fmt.Errorf("coqui: decode details response: %w", err)
		}
		if details.Language != "" {
			lang = details.Language
		}
		names = append(names, details.Speakers...)
		if len(names) == 0 {
			// Single-speaker model: the model itself is the voice.
			name := details.ModelName
			if name == "" {
				name = "default"
			}
			names = []string{name}
		}
	}
	sort.Strings(names)

	voices := make([]tts.Voice, 0, len(names))
	for _, name := range names {
		voices = append(voices, tts.Voice{
			ID:       name,
			Name:     name,
			Lang:     lang,
			Local:    true,
			Provider: "coqui",
		})
	}
	return voices, nil
}

// primaryTag reduces "en-US" to "en"; Coqui models take bare language codes.
func primaryTag(lang string) string {
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return strings.ToLower(lang)
}
