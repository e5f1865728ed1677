// Package tutor defines the subject-domain personas that prefix the system
// instruction sent to the language model.
package tutor

import (
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

// Role is a tutor persona.
type Role string

const (
	Math     Role = "math"
	Science  Role = "science"
	History  Role = "history"
	Language Role = "language"
	General  Role = "general"
)

// Roles lists every role in display order.
var Roles = []Role{Math, Science, History, Language, General}

// fuzzyThreshold is the minimum Jaro-Winkler score for a fuzzy role match.
const fuzzyThreshold = 0.85

const writingGuide = "When a formula, worked step, list or sketch would help, put it between " +
	"[writing] and [/writing] markers; use [writing type=diagram] for diagrams. " +
	"Everything outside the markers is read aloud, so keep it conversational and short."

var prompts = map[Role]string{
	Math: "You are a patient math tutor. Guide the student through each step " +
		"instead of giving the final answer right away, and check their reasoning.",
	Science: "You are an enthusiastic science tutor. Explain concepts with everyday " +
		"examples and connect them to how experiments reveal them.",
	History: "You are a knowledgeable history tutor. Place events in context, " +
		"explain causes and consequences, and mention dates when they matter.",
	Language: "You are a friendly language tutor. Correct mistakes gently, " +
		"explain grammar simply and encourage the student to practise speaking.",
	General: "You are a helpful tutor. Adapt your explanations to the student's " +
		"level and ask short questions to check understanding.",
}

// aliases maps common spoken or written names onto roles.
var aliases = map[string]Role{
	"maths":       Math,
	"mathematics": Math,
	"algebra":     Math,
	"geometry":    Math,
	"physics":     Science,
	"chemistry":   Science,
	"biology":     Science,
	"languages":   Language,
	"grammar":     Language,
	"english":     Language,
	"default":     General,
}

// ParseRole resolves s to a role. Matching is case-insensitive; unknown
// names fall back to a phonetic and then a Jaro-Winkler match, and finally
// to General.
func ParseRole(s string) Role {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return General
	}
	for _, r := range Roles {
		if key == string(r) {
			return r
		}
	}
	if r, ok := aliases[key]; ok {
		return r
	}

	p1, s1 := matchr.DoubleMetaphone(key)
	best, score := General, 0.0
	for _, name := range candidates() {
		r := roleOf(name)
		if p2, s2 := matchr.DoubleMetaphone(name); p1 != "" && (p1 == p2 || (s1 != "" && s1 == s2)) {
			return r
		}
		if jw := matchr.JaroWinkler(key, name, false); jw >= fuzzyThreshold && jw > score {
			best, score = r, jw
		}
	}
	return best
}

func candidates() []string {
	out := make([]string, 0, len(Roles)+len(aliases))
	for _, r := range Roles {
		out = append(out, string(r))
	}
	for a := range aliases {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

func roleOf(name string) Role {
	if r, ok := aliases[name]; ok {
		return r
	}
	return Role(name)
}

// SystemPrompt returns the system instruction for r, including the
// whiteboard convention.
func (r Role) SystemPrompt() string {
	p, ok := prompts[r]
	if !ok {
		p = prompts[General]
	}
	return p + " " + writingGuide
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := prompts[r]
	return ok
}

func (r Role) String() string { return string(r) }
