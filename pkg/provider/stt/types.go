package stt

import "time"

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial (interim) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the provider
	// does not report confidence.
	Confidence float64

	// Words contains per-word detail when available.
	Words []WordDetail

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost represents a keyword to boost in STT recognition, e.g. subject
// vocabulary such as "photosynthesis" or "hypotenuse".
type KeywordBoost struct {
	// Keyword is the text to boost.
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// Audio is a complete recorded clip handed to a Transcriber.
type Audio struct {
	// Data holds the encoded audio bytes (WAV, WebM, MP3, ...).
	Data []byte

	// Filename is the upload file name; providers use its extension to detect the
	// container format.
	Filename string

	// ContentType is the MIME type of Data. Optional.
	ContentType string
}

// TranscribeOptions tunes a single batch transcription.
type TranscribeOptions struct {
	// Language is a BCP-47 or ISO-639-1 hint. Empty lets the provider auto-detect.
	Language string

	// Prompt is optional context text that biases recognition (subject vocabulary).
	Prompt string
}
