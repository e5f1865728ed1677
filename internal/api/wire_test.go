package api_test

import (
	"testing"

	"github.com/MrWong99/voxtutor/internal/api"
	"github.com/MrWong99/voxtutor/pkg/provider/llm"
)

func TestEncodeHeader(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"hello", "hello"},
		{"What is 2+2?", "What%20is%202%2B2%3F"},
		{"keep -_.!~*'()", "keep%20-_.!~*'()"},
		{"a/b&c=d#e", "a%2Fb%26c%3Dd%23e"},
		{"café", "caf%C3%A9"},
		{"π ≈ 3.14", "%CF%80%20%E2%89%88%203.14"},
		{"line\nbreak", "line%0Abreak"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got := api.EncodeHeader(tt.in)
			if got != tt.want {
				t.Errorf("EncodeHeader(%q) = %q, want %q", tt.in, got, tt.want)
			}
			back, err := api.DecodeHeader(got)
			if err != nil {
				t.Fatalf("DecodeHeader: %v", err)
			}
			if back != tt.in {
				t.Errorf("round trip = %q, want %q", back, tt.in)
			}
		})
	}
}

func TestDecodeHeader_PlusIsLiteral(t *testing.T) {
	t.Parallel()
	got, err := api.DecodeHeader("2+2")
	if err != nil {
		t.Fatal(err)
	}
	if got != "2+2" {
		t.Errorf("got %q, want %q", got, "2+2")
	}
}

func TestDecodeHeader_Invalid(t *testing.T) {
	t.Parallel()
	if _, err := api.DecodeHeader("bad%zz"); err == nil {
		t.Error("expected error for malformed escape")
	}
}

func TestEncodeContext(t *testing.T) {
	t.Parallel()
	nilCtx, err := api.EncodeContext(nil)
	if err != nil {
		t.Fatal(err)
	}
	if nilCtx != "%5B%5D" {
		t.Errorf("EncodeContext(nil) = %q, want %%5B%%5D", nilCtx)
	}

	got, err := api.EncodeContext([]llm.Message{{Role: "user", Content: "Hi"}})
	if err != nil {
		t.Fatal(err)
	}
	plain, err := api.DecodeHeader(got)
	if err != nil {
		t.Fatal(err)
	}
	if want := `[{"role":"user","content":"Hi"}]`; plain != want {
		t.Errorf("decoded context = %s, want %s", plain, want)
	}
}

func TestContentType(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"mp3":  "audio/mpeg",
		"opus": "audio/opus",
		"aac":  "audio/aac",
		"flac": "audio/flac",
		"wav":  "audio/wav",
		"pcm":  "audio/pcm",
	}
	for format, want := range tests {
		if got := api.ContentType(format); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", format, got, want)
		}
		if !api.ValidFormat(format) {
			t.Errorf("ValidFormat(%q) = false", format)
		}
	}
	if api.ValidFormat("ogg") {
		t.Error("ValidFormat(ogg) = true")
	}
}
