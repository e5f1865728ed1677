package config

import (
	"reflect"

	"github.com/MrWong99/voxtutor/internal/synthesis"
)

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes get their own flag; everything else is listed in
// RestartRequired by its YAML section name.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VoiceChanged bool
	NewVoice     synthesis.VoiceParams

	ConversationChanged bool // tutor role, model, voice or auto-conversation
	SilenceChanged      bool
	RecognitionChanged  bool

	// RestartRequired names the sections that changed but only take effect
	// after a restart (e.g., "server", "providers").
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VoiceChanged && !d.ConversationChanged &&
		!d.SilenceChanged && !d.RecognitionChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Voice != new.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Voice
	}
	d.ConversationChanged = !reflect.DeepEqual(old.Conversation, new.Conversation)
	d.SilenceChanged = old.Silence != new.Silence
	d.RecognitionChanged = old.Recognition != new.Recognition

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if !reflect.DeepEqual(old.Fallbacks, new.Fallbacks) {
		d.RestartRequired = append(d.RestartRequired, "fallbacks")
	}
	if !reflect.DeepEqual(old.Client, new.Client) {
		d.RestartRequired = append(d.RestartRequired, "client")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}

	return d
}
