package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/voxtutor/internal/observe"
	"github.com/MrWong99/voxtutor/internal/pipeline"
	"github.com/MrWong99/voxtutor/internal/session"
	"github.com/MrWong99/voxtutor/internal/tutor"
	"github.com/MrWong99/voxtutor/pkg/provider/llm"
)

const (
	defaultMaxUpload = 25 << 20 // 25 MiB, the common transcription upload limit
	maxChatBody      = 1 << 20
)

// Pipeline is the server-side turn processor.
type Pipeline interface {
	Process(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
	Chat(ctx context.Context, req pipeline.ChatRequest) (*llm.CompletionResponse, error)
}

var _ Pipeline = (*pipeline.Pipeline)(nil)

// Defaults fill request fields that a client left empty.
type Defaults struct {
	TutorRole      tutor.Role
	Model          string
	Temperature    float64
	Voice          string
	TTSModel       string
	ResponseFormat string
	Speed          float64
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithDefaults sets the request defaults.
func WithDefaults(d Defaults) ServerOption {
	return func(s *Server) { s.defaults = d }
}

// WithMaxUpload limits the size of the pipeline upload.
func WithMaxUpload(n int64) ServerOption {
	return func(s *Server) { s.maxUpload = n }
}

// Server serves the pipeline and chat endpoints.
type Server struct {
	pipeline  Pipeline
	defaults  Defaults
	maxUpload int64
}

// NewServer creates a Server over p.
func NewServer(p Pipeline, opts ...ServerOption) *Server {
	s := &Server{
		pipeline:  p,
		defaults:  Defaults{TutorRole: tutor.General, ResponseFormat: "mp3"},
		maxUpload: defaultMaxUpload,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST "+PathPipeline, s.handlePipeline)
	mux.HandleFunc("POST "+PathChat, s.handleChat)
}

// badRequest marks client errors.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())
	turnID := uuid.NewString()
	w.Header().Set(HeaderTurnID, turnID)

	req, err := s.parsePipelineRequest(w, r)
	if err != nil {
		log.Warn("api: rejected pipeline request", "turn", turnID, "err", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.pipeline.Process(r.Context(), req)
	if err != nil {
		log.Error("api: pipeline failed", "turn", turnID, "err", err)
		writeError(w, http.StatusBadGateway, "voice pipeline failed")
		return
	}

	ctxHeader, err := EncodeContext(res.Context)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h := w.Header()
	h.Set(HeaderTranscription, EncodeHeader(res.Transcript))
	h.Set(HeaderResponseText, EncodeHeader(res.ResponseText))
	h.Set(HeaderChatContext, ctxHeader)
	h.Set("Access-Control-Expose-Headers", strings.Join([]string{
		HeaderTranscription, HeaderResponseText, HeaderChatContext, HeaderTurnID,
	}, ", "))
	format := res.Format
	if format == "" {
		format = req.ResponseFormat
	}
	h.Set("Content-Type", ContentType(format))
	h.Set("Content-Length", strconv.Itoa(len(res.Audio)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Audio); err != nil {
		log.Debug("api: write pipeline audio", "turn", turnID, "err", err)
	}
	log.Info("api: pipeline turn served", "turn", turnID,
		"transcript_chars", len(res.Transcript), "audio_bytes", len(res.Audio), "format", format)
}

func (s *Server) parsePipelineRequest(w http.ResponseWriter, r *http.Request) (pipeline.Request, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+1<<20)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		return pipeline.Request{}, badRequest{"invalid multipart body: " + err.Error()}
	}
	file, hdr, err := r.FormFile(FieldAudio)
	if err != nil {
		return pipeline.Request{}, badRequest{"missing audio file"}
	}
	defer file.Close()
	audio, err := io.ReadAll(file)
	if err != nil {
		return pipeline.Request{}, badRequest{"read audio: " + err.Error()}
	}
	if len(audio) == 0 {
		return pipeline.Request{}, badRequest{"audio file is empty"}
	}

	d := s.defaults
	req := pipeline.Request{
		Audio:          audio,
		Filename:       hdr.Filename,
		ContentType:    hdr.Header.Get("Content-Type"),
		TutorRole:      d.TutorRole,
		Model:          orDefault(r.FormValue(FieldModel), d.Model),
		Temperature:    d.Temperature,
		Voice:          orDefault(r.FormValue(FieldVoice), d.Voice),
		TTSModel:       orDefault(r.FormValue(FieldTTSModel), d.TTSModel),
		ResponseFormat: orDefault(r.FormValue(FieldResponseFormat), d.ResponseFormat),
		Speed:          d.Speed,
	}
	if role := r.FormValue(FieldTutorRole); role != "" {
		req.TutorRole = tutor.ParseRole(role)
	}
	if !req.TutorRole.Valid() {
		req.TutorRole = tutor.General
	}
	if req.ResponseFormat != "" && !ValidFormat(req.ResponseFormat) {
		return req, badRequest{fmt.Sprintf("unsupported responseFormat %q", req.ResponseFormat)}
	}
	if req.Context, err = session.DecodeMessages([]byte(r.FormValue(FieldChatContext))); err != nil {
		return req, badRequest{"invalid chatContext: " + err.Error()}
	}
	if req.Temperature, err = parseFloat(r.FormValue(FieldTemperature), d.Temperature, 0, 2); err != nil {
		return req, badRequest{"invalid temperature: " + err.Error()}
	}
	if req.Speed, err = parseFloat(r.FormValue(FieldSpeed), d.Speed, 0.25, 4); err != nil {
		return req, badRequest{"invalid speed: " + err.Error()}
	}
	return req, nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(body.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	req := pipeline.ChatRequest{
		Messages:    body.Messages,
		Model:       orDefault(body.Model, s.defaults.Model),
		Temperature: s.defaults.Temperature,
		TutorRole:   s.defaults.TutorRole,
	}
	if body.Temperature != nil {
		req.Temperature = *body.Temperature
	}
	if body.TutorRole != "" {
		req.TutorRole = tutor.ParseRole(body.TutorRole)
	}
	if !req.TutorRole.Valid() {
		req.TutorRole = tutor.General
	}

	resp, err := s.pipeline.Chat(r.Context(), req)
	if err != nil {
		observe.Logger(r.Context()).Error("api: chat failed", "err", err)
		status := http.StatusBadGateway
		if errors.Is(err, pipeline.ErrNoMessages) {
			status = http.StatusBadRequest
		}
		writeError(w, status, "chat completion failed")
		return
	}
	model := resp.Model
	if model == "" {
		model = req.Model
	}
	writeJSON(w, http.StatusOK, ChatResponse{Content: resp.Content, Model: model, Usage: resp.Usage})
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

func parseFloat(v string, def, lo, hi float64) (float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if f < lo || f > hi {
		return 0, fmt.Errorf("%v outside [%v, %v]", f, lo, hi)
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
