package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voxtutor/pkg/provider/tts"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, _ := New("sk-test", "")
	_, err := p.Synthesize(context.Background(), tts.SpeechRequest{Text: "   "})
	if !errors.Is(err, tts.ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}
}

func TestBuildParams_Defaults(t *testing.T) {
	p, _ := New("sk-test", "", WithVoice("nova"))
	params := p.buildParams(tts.SpeechRequest{Text: "hi"})

	if string(params.Model) != "tts-1" {
		t.Errorf("model = %q, want tts-1", params.Model)
	}
	if string(params.Voice) != "nova" {
		t.Errorf("voice = %q, want nova", params.Voice)
	}
	if string(params.ResponseFormat) != tts.FormatMP3 {
		t.Errorf("format = %q, want mp3", params.ResponseFormat)
	}
	if params.Speed.Valid() {
		t.Error("speed should be unset at 1.0")
	}
	if params.Instructions.Valid() {
		t.Error("instructions should be unset")
	}
}

func TestBuildParams_Overrides(t *testing.T) {
	p, _ := New("sk-test", "tts-1")
	params := p.buildParams(tts.SpeechRequest{
		Text:         "hi",
		Voice:        "echo",
		Model:        "gpt-4o-mini-tts",
		Format:       tts.FormatWAV,
		Speed:        9,
		Instructions: "calm",
	})
	if string(params.Model) != "gpt-4o-mini-tts" || string(params.Voice) != "echo" || string(params.ResponseFormat) != "wav" {
		t.Errorf("params = %+v", params)
	}
	if !params.Speed.Valid() || params.Speed.Value != maxSpeed {
		t.Errorf("speed = %v, want clamped to %v", params.Speed.Value, maxSpeed)
	}
	if params.Instructions.Value != "calm" {
		t.Errorf("instructions = %q", params.Instructions.Value)
	}
}

func TestListVoices(t *testing.T) {
	p, _ := New("sk-test", "")
	vs, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(vs) != len(voices) || vs[0].ID != "alloy" {
		t.Errorf("voices = %+v", vs)
	}
}
