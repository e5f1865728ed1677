// Package api defines the HTTP wire protocol between voice clients and the
// tutoring server and implements the server side of it.
//
// The pipeline endpoint returns synthesised audio as the response body and
// carries the turn's text metadata in URL-encoded headers, encoded the way
// JavaScript's encodeURIComponent does so browser clients can decode them
// with decodeURIComponent.
package api

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/MrWong99/voxtutor/pkg/provider/llm"
	"github.com/MrWong99/voxtutor/pkg/provider/tts"
)

// Routes.
const (
	PathPipeline = "/api/voice/pipeline"
	PathChat     = "/api/chat"
)

// Response headers of the pipeline endpoint.
const (
	HeaderTranscription = "X-Transcription"
	HeaderResponseText  = "X-Response-Text"
	HeaderChatContext   = "X-Chat-Context"
	HeaderTurnID        = "X-Turn-ID"
)

// Multipart form fields of the pipeline endpoint.
const (
	FieldAudio          = "audio"
	FieldTutorRole      = "tutorRole"
	FieldChatContext    = "chatContext"
	FieldVoice          = "voice"
	FieldModel          = "model"
	FieldTemperature    = "temperature"
	FieldTTSModel       = "ttsModel"
	FieldResponseFormat = "responseFormat"
	FieldSpeed          = "speed"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Messages    []llm.Message `json:"messages"`
	Model       string        `json:"model,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TutorRole   string        `json:"tutorRole,omitempty"`
}

// ChatResponse is the reply of POST /api/chat.
type ChatResponse struct {
	Content string    `json:"content"`
	Model   string    `json:"model"`
	Usage   llm.Usage `json:"usage"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ContentType returns the body media type for a response format.
func ContentType(format string) string { return tts.ContentType(format) }

// ValidFormat reports whether format is an accepted responseFormat.
func ValidFormat(format string) bool {
	switch format {
	case tts.FormatMP3, tts.FormatOpus, tts.FormatAAC, tts.FormatFLAC, tts.FormatWAV, tts.FormatPCM:
		return true
	}
	return false
}

// EncodeHeader percent-encodes s like encodeURIComponent: everything except
// ASCII letters, digits and - _ . ! ~ * ' ( ) is escaped as UTF-8 bytes.
func EncodeHeader(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'()", c) >= 0
}

// DecodeHeader reverses EncodeHeader. A literal "+" stays a plus sign.
func DecodeHeader(s string) (string, error) {
	out, err := url.PathUnescape(s)
	if err != nil {
		return "", fmt.Errorf("api: decode header: %w", err)
	}
	return out, nil
}

// EncodeContext renders a chat context for the X-Chat-Context header.
func EncodeContext(msgs []llm.Message) (string, error) {
	if msgs == nil {
		msgs = []llm.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return "", fmt.Errorf("api: encode chat context: %w", err)
	}
	return EncodeHeader(string(data)), nil
}
