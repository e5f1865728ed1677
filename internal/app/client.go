package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxtutor/internal/client"
	"github.com/MrWong99/voxtutor/internal/clock"
	"github.com/MrWong99/voxtutor/internal/config"
	"github.com/MrWong99/voxtutor/internal/mic"
	"github.com/MrWong99/voxtutor/internal/netstate"
	"github.com/MrWong99/voxtutor/internal/observe"
	"github.com/MrWong99/voxtutor/internal/orchestrator"
	"github.com/MrWong99/voxtutor/internal/recognition"
	"github.com/MrWong99/voxtutor/internal/session"
	"github.com/MrWong99/voxtutor/internal/synthesis"
	"github.com/MrWong99/voxtutor/internal/voicemode"
	"github.com/MrWong99/voxtutor/pkg/audio"
)

// localRecognizers run on this machine and need no connectivity.
var localRecognizers = map[string]bool{"whisper-native": true}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClock drives every timer of the client from c.
func WithClock(c clock.Clock) ClientOption {
	return func(cl *Client) { cl.clock = c }
}

// WithClientMetrics records client metrics on m.
func WithClientMetrics(m *observe.Metrics) ClientOption {
	return func(cl *Client) { cl.metrics = m }
}

// WithHTTPClient replaces the HTTP client used for the server and the
// connectivity probe.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(cl *Client) { cl.http = h }
}

// WithOrchestratorOptions appends options, typically callbacks, to the
// conversation orchestrator.
func WithOrchestratorOptions(opts ...orchestrator.Option) ClientOption {
	return func(cl *Client) { cl.orchOpts = append(cl.orchOpts, opts...) }
}

// WithVoiceModeOptions appends options, typically callbacks, to the voice
// mode controller.
func WithVoiceModeOptions(opts ...voicemode.Option) ClientOption {
	return func(cl *Client) { cl.vmOpts = append(cl.vmOpts, opts...) }
}

// Client wires the local side of voxtutor: the conversation orchestrator
// talking to the server pipeline and, when a recognition provider is
// configured, voice mode talking to the chat endpoint. Both share one
// microphone token, one chat history per mode and the global voice options.
type Client struct {
	cfg      *config.Config
	clock    clock.Clock
	metrics  *observe.Metrics
	http     *http.Client
	orchOpts []orchestrator.Option
	vmOpts   []voicemode.Option

	mic         *mic.Token
	monitor     *netstate.Monitor
	voices      *synthesis.GlobalVoiceOptions
	ttsBackend  *synthesis.TTSBackend
	speech      *synthesis.Engine
	recognition *recognition.Engine
	conv        *orchestrator.Orchestrator
	voice       *voicemode.Controller
	chat        *client.ChatClient
}

// NewClient builds the client over the local device and player.
// providers.TTS and providers.Recognition are optional and only used by
// voice mode.
func NewClient(cfg *config.Config, providers *Providers, device audio.Device, player audio.Player, opts ...ClientOption) (*Client, error) {
	c := &Client{cfg: cfg}
	for _, o := range opts {
		o(c)
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Client.RequestTimeout}
	}

	breaker := client.NewBreaker(cfg.Client.CircuitBreaker)
	clientOpts := []client.Option{client.WithHTTPClient(c.http), client.WithBreaker(breaker)}
	pipe, err := client.NewPipelineClient(cfg.Client.ServerURL, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if c.chat, err = client.NewChatClient(cfg.Client.ServerURL, clientOpts...); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	probeURL := cfg.Client.ProbeURL
	if probeURL == "" {
		probeURL = strings.TrimRight(cfg.Client.ServerURL, "/") + "/healthz"
	}
	if c.monitor, err = netstate.New(probeURL,
		netstate.WithInterval(cfg.Client.ProbeInterval),
		netstate.WithHTTPClient(c.http),
		netstate.WithClock(c.clock),
	); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	c.mic = &mic.Token{}
	c.voices = synthesis.NewGlobalVoiceOptions()
	c.voices.Set(cfg.Voice)

	c.ttsBackend = synthesis.NewTTSBackend(providers.TTS, player,
		synthesis.WithModel(cfg.Conversation.TTSModel),
		synthesis.WithFormat(cfg.Conversation.ResponseFormat),
	)
	speechOpts := []synthesis.Option{synthesis.WithGlobalOptions(c.voices)}
	if c.metrics != nil {
		speechOpts = append(speechOpts, synthesis.WithMetrics(c.metrics))
	}
	c.speech = synthesis.New(c.ttsBackend, speechOpts...)

	conv := cfg.Conversation
	orchOpts := []orchestrator.Option{
		orchestrator.WithSettings(orchestrator.Settings{
			TutorRole:      conv.Role(),
			Voice:          conv.Voice,
			Model:          conv.Model,
			Temperature:    conv.Temperature,
			TTSModel:       conv.TTSModel,
			ResponseFormat: conv.ResponseFormat,
			Speed:          conv.Speed,
		}),
		orchestrator.WithAutoConversation(conv.AutoConversation),
		orchestrator.WithRestartDelay(conv.RestartDelay),
		orchestrator.WithClock(c.clock),
		orchestrator.WithSilenceOptions(cfg.Silence.Options()...),
		orchestrator.WithMic(c.mic),
		orchestrator.WithChatContext(session.NewChatContext()),
		orchestrator.WithSpeech(c.speech),
	}
	if c.metrics != nil {
		orchOpts = append(orchOpts, orchestrator.WithMetrics(c.metrics))
	}
	c.conv = orchestrator.New(pipe, device, player, append(orchOpts, c.orchOpts...)...)

	if providers.Recognition != nil {
		if err := c.buildVoiceMode(providers, device); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) buildVoiceMode(providers *Providers, device audio.Device) error {
	cfg := c.cfg
	backendOpts := []recognition.STTOption{
		recognition.WithSampleRate(cfg.Recognition.SampleRate),
		recognition.WithNoSpeechTimeout(cfg.Recognition.NoSpeechTimeout),
	}
	if localRecognizers[cfg.Providers.Recognition.Name] {
		backendOpts = append(backendOpts, recognition.WithLocalProvider())
	}
	recOpts := []recognition.Option{
		recognition.WithClock(c.clock),
		recognition.WithMaxNetworkRetries(cfg.Recognition.MaxNetworkRetries),
		recognition.WithStartDelay(cfg.Recognition.StartDelay),
		recognition.WithNetwork(c.monitor),
		recognition.WithMicrophone(c.mic),
	}
	if c.metrics != nil {
		recOpts = append(recOpts, recognition.WithMetrics(c.metrics))
	}
	c.recognition = recognition.New(recognition.NewSTTBackend(providers.Recognition, device, backendOpts...), recOpts...)
	if err := c.recognition.Init(); err != nil {
		return fmt.Errorf("app: %w", err)
	}

	conv := cfg.Conversation
	vmOpts := []voicemode.Option{
		voicemode.WithClock(c.clock),
		voicemode.WithConnectivity(c.monitor),
		voicemode.WithChatContext(session.NewChatContext()),
		voicemode.WithSettings(voicemode.Settings{
			Lang:        cfg.Recognition.Lang,
			TutorRole:   conv.Role(),
			Model:       conv.Model,
			Temperature: conv.Temperature,
		}),
	}
	c.voice = voicemode.New(c.recognition, c.speech, c.chat, append(vmOpts, c.vmOpts...)...)
	return nil
}

// Conversation returns the orchestrator.
func (c *Client) Conversation() *orchestrator.Orchestrator { return c.conv }

// VoiceMode returns the voice mode controller, or nil when no recognition
// provider is configured.
func (c *Client) VoiceMode() *voicemode.Controller { return c.voice }

// Speech returns the synthesis engine.
func (c *Client) Speech() *synthesis.Engine { return c.speech }

// Chat returns the plain chat client.
func (c *Client) Chat() *client.ChatClient { return c.chat }

// Monitor returns the connectivity monitor.
func (c *Client) Monitor() *netstate.Monitor { return c.monitor }

// Run loads the voice list, starts the connectivity monitor and runs the
// orchestrator until ctx is cancelled. Everything is released on return.
func (c *Client) Run(ctx context.Context) error {
	if c.ttsBackend.Supported() {
		if err := c.ttsBackend.LoadVoices(ctx); err != nil {
			slog.Warn("app: could not load voices; using provider default", "err", err)
		}
	}
	c.monitor.Start()
	defer c.monitor.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.conv.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		if c.voice != nil {
			c.voice.Close()
		}
		if c.recognition != nil {
			c.recognition.Dispose()
		}
		c.speech.Stop()
		return nil
	})
	return g.Wait()
}

// Apply pushes the hot-reloadable parts of a config change into the running
// client.
func (c *Client) Apply(d config.ConfigDiff, next *config.Config) {
	if d.VoiceChanged {
		c.voices.Set(d.NewVoice)
		slog.Info("app: voice options updated", "rate", d.NewVoice.Rate, "pitch", d.NewVoice.Pitch, "volume", d.NewVoice.Volume)
	}
	if d.ConversationChanged {
		conv := next.Conversation
		c.conv.UpdateSettings(func(s *orchestrator.Settings) {
			s.TutorRole = conv.Role()
			s.Voice = conv.Voice
			s.Model = conv.Model
			s.Temperature = conv.Temperature
			s.TTSModel = conv.TTSModel
			s.ResponseFormat = conv.ResponseFormat
			s.Speed = conv.Speed
		})
		c.conv.SetAutoConversation(conv.AutoConversation)
	}
	if c.voice != nil && (d.ConversationChanged || d.RecognitionChanged) {
		c.voice.UpdateSettings(func(s *voicemode.Settings) {
			s.Lang = next.Recognition.Lang
			s.TutorRole = next.Conversation.Role()
			s.Model = next.Conversation.Model
			s.Temperature = next.Conversation.Temperature
		})
	}
	if d.SilenceChanged {
		// The orchestrator reads silence options once; new thresholds apply
		// after a restart.
		slog.Warn("app: silence settings change requires a restart")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config sections changed that require a restart", "sections", d.RestartRequired)
	}
}
