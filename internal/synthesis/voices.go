package synthesis

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/voxtutor/pkg/provider/tts"
)

// fuzzyVoiceThreshold is the minimum Jaro-Winkler similarity for a voice name
// to match a requested name that is not exact.
const fuzzyVoiceThreshold = 0.9

// SelectVoice picks the voice for an utterance.
//
// A requested name matches a voice name or ID exactly (case-insensitive),
// then by Jaro-Winkler similarity. Without a name match the order is: a local
// voice with the exact language tag, any voice with the exact tag, any voice
// with the same primary subtag, the first voice. ok is false when voices is
// empty.
func SelectVoice(voices []tts.Voice, name, lang string) (v tts.Voice, ok bool) {
	if len(voices) == 0 {
		return tts.Voice{}, false
	}
	if name != "" {
		if v, ok := voiceByName(voices, name); ok {
			return v, true
		}
	}

	for _, v := range voices {
		if v.Local && strings.EqualFold(v.Lang, lang) {
			return v, true
		}
	}
	for _, v := range voices {
		if strings.EqualFold(v.Lang, lang) {
			return v, true
		}
	}
	if primary := primaryTag(lang); primary != "" {
		for _, v := range voices {
			if primaryTag(v.Lang) == primary {
				return v, true
			}
		}
	}
	return voices[0], true
}

func voiceByName(voices []tts.Voice, name string) (tts.Voice, bool) {
	for _, v := range voices {
		if strings.EqualFold(v.Name, name) || strings.EqualFold(v.ID, name) {
			return v, true
		}
	}

	want := strings.ToLower(name)
	var (
		best  tts.Voice
		score float64
	)
	for _, v := range voices {
		s := matchr.JaroWinkler(want, strings.ToLower(v.Name), false)
		if s >= fuzzyVoiceThreshold && s > score {
			best, score = v, s
		}
	}
	return best, score > 0
}

// primaryTag returns the lowercase language subtag of a BCP-47 tag.
func primaryTag(lang string) string {
	primary, _, _ := strings.Cut(lang, "-")
	primary, _, _ = strings.Cut(primary, "_")
	return strings.ToLower(primary)
}
