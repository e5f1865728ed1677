// Package writing extracts whiteboard instructions embedded in assistant
// text as [writing]...[/writing] blocks.
//
// Blocks pair non-greedily: each opening tag closes at the nearest following
// closing tag. Tags without a partner stay in the speakable text as literal
// text, so a malformed reply degrades to being read aloud rather than losing
// content.
package writing

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind is the type of a whiteboard instruction.
type Kind string

const (
	KindText    Kind = "text"
	KindDiagram Kind = "diagram"
)

// Position is an optional placement hint in whiteboard units.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Instruction is one whiteboard block.
type Instruction struct {
	Kind     Kind      `json:"kind"`
	Content  string    `json:"content"`
	Position *Position `json:"position,omitempty"`
}

// Document is a parsed assistant reply.
type Document struct {
	Instructions []Instruction `json:"instructions"`

	// Speakable is the reply with every block removed and whitespace
	// collapsed.
	Speakable string `json:"speakable"`
}

var (
	blockRe = regexp.MustCompile(`(?is)\[writing(\s[^\]]*)?\](.*?)\[/writing\]`)
	openRe  = regexp.MustCompile(`(?i)\[writing(\s[^\]]*)?\]`)
	attrRe  = regexp.MustCompile(`([a-zA-Z]+)\s*=\s*("[^"]*"|'[^']*'|[^\s"']+)`)
)

// Parse splits text into instructions and speakable text.
func Parse(text string) Document {
	doc := Document{Instructions: []Instruction{}}
	var speak strings.Builder
	last := 0
	for _, m := range blockRe.FindAllStringSubmatchIndex(text, -1) {
		start, attrLo, attrHi, bodyLo, bodyHi := m[0], m[2], m[3], m[4], m[5]
		// A close tag pairs with the nearest open tag before it; earlier
		// unmatched open tags stay in the speakable text.
		if opens := openRe.FindAllStringSubmatchIndex(text[bodyLo:bodyHi], -1); len(opens) > 0 {
			o := opens[len(opens)-1]
			start = bodyLo + o[0]
			attrLo, attrHi = -1, -1
			if o[2] >= 0 {
				attrLo, attrHi = bodyLo+o[2], bodyLo+o[3]
			}
			bodyLo += o[1]
		}
		speak.WriteString(text[last:start])
		speak.WriteByte(' ')
		last = m[1]

		var attrs string
		if attrLo >= 0 {
			attrs = text[attrLo:attrHi]
		}
		content := strings.TrimSpace(text[bodyLo:bodyHi])
		if content == "" {
			continue
		}
		ins := parseAttrs(attrs)
		ins.Content = content
		doc.Instructions = append(doc.Instructions, ins)
	}
	speak.WriteString(text[last:])
	doc.Speakable = strings.Join(strings.Fields(speak.String()), " ")
	return doc
}

// Strip returns only the speakable text of a reply.
func Strip(text string) string { return Parse(text).Speakable }

func parseAttrs(attrs string) Instruction {
	ins := Instruction{Kind: KindText}
	var x, y *float64
	for _, kv := range attrRe.FindAllStringSubmatch(attrs, -1) {
		key := strings.ToLower(kv[1])
		val := strings.Trim(kv[2], `"'`)
		switch key {
		case "type", "kind":
			if strings.EqualFold(val, string(KindDiagram)) {
				ins.Kind = KindDiagram
			}
		case "x":
			x = parseFloat(val)
		case "y":
			y = parseFloat(val)
		case "pos", "position":
			xs, ys, ok := strings.Cut(val, ",")
			if ok {
				x, y = parseFloat(xs), parseFloat(ys)
			}
		}
	}
	if x != nil && y != nil {
		ins.Position = &Position{X: *x, Y: *y}
	}
	return ins
}

func parseFloat(s string) *float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &f
}
