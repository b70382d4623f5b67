// Package fountain parses Fountain-formatted screenplay text into the
// structured scene model. It covers the subset that matters for indexing:
// scene headings, action paragraphs, and dialogue blocks. Boneyard comments
// and inline notes are stripped before parsing, so machine-written metadata
// blocks never reach element text or hashing.
package fountain

import (
	"context"
	"strings"
	"unicode"

	sdxerrors "github.com/Aman-CERP/scenedex/internal/errors"
	"github.com/Aman-CERP/scenedex/internal/scene"
)

// Parser implements scene.Parser for Fountain documents.
type Parser struct{}

var _ scene.Parser = (*Parser)(nil)

// New creates a Fountain parser.
func New() *Parser {
	return &Parser{}
}

// Parse turns a Fountain document into an ordered scene list. Content before
// the first scene heading (title page, front matter) is skipped. Scenes carry
// structure only; ordinals and content hashes are assigned by the caller.
func (p *Parser) Parse(ctx context.Context, path string, src []byte) ([]*scene.Scene, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !isText(src) {
		return nil, sdxerrors.ParseError("document is not text", nil).
			WithDetail("path", path)
	}

	text := stripInvisibles(string(src))
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")

	// Byte offset of each line within text.
	offsets := make([]int, len(lines))
	pos := 0
	for i, line := range lines {
		offsets[i] = pos
		pos += len(line) + 1
	}

	var scenes []*scene.Scene
	var current *builder

	flush := func() {
		if current == nil {
			return
		}
		scenes = append(scenes, current.build(text, offsets))
		current = nil
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		if heading, ok := parseHeading(trimmed); ok {
			flush()
			current = &builder{heading: heading, startLine: i, lastLine: i}
			continue
		}
		if current == nil || trimmed == "" {
			continue
		}
		if isStructural(trimmed) {
			continue
		}

		if isCharacterCue(trimmed, i, lines) {
			character := trimmed
			var parenthetical string
			var dialogue []string

			j := i + 1
			if j < len(lines) {
				next := strings.TrimSpace(lines[j])
				if strings.HasPrefix(next, "(") && strings.HasSuffix(next, ")") {
					parenthetical = strings.TrimSuffix(strings.TrimPrefix(next, "("), ")")
					j++
				}
			}
			for j < len(lines) && strings.TrimSpace(lines[j]) != "" {
				dialogue = append(dialogue, strings.TrimSpace(lines[j]))
				j++
			}
			if len(dialogue) > 0 {
				current.elements = append(current.elements, &scene.Element{
					Kind:          scene.ElementDialogue,
					Character:     character,
					Parenthetical: parenthetical,
					Text:          strings.Join(dialogue, "\n"),
				})
				current.lastLine = j - 1
				i = j - 1
			}
			continue
		}

		// Action paragraph: consecutive non-blank lines.
		var action []string
		j := i
		for j < len(lines) && strings.TrimSpace(lines[j]) != "" {
			action = append(action, strings.TrimSpace(lines[j]))
			j++
		}
		current.elements = append(current.elements, &scene.Element{
			Kind: scene.ElementAction,
			Text: strings.Join(action, "\n"),
		})
		current.lastLine = j - 1
		i = j - 1
	}
	flush()

	return scenes, nil
}

// builder accumulates one scene while scanning.
type builder struct {
	heading   scene.Heading
	elements  []*scene.Element
	startLine int
	lastLine  int
}

// build finalizes the scene, computing its span from the heading line
// through its last element line.
func (b *builder) build(text string, offsets []int) *scene.Scene {
	start := offsets[b.startLine]
	end := offsets[b.lastLine]
	// End of the last line, not including its newline.
	if nl := strings.IndexByte(text[end:], '\n'); nl >= 0 {
		end += nl
	} else {
		end = len(text)
	}

	return &scene.Scene{
		Heading:  b.heading,
		Elements: b.elements,
		Span: scene.Span{
			Start: start,
			End:   end,
			Text:  text[start:end],
		},
	}
}

// parseHeading recognizes a scene heading line and splits it into
// type, location, and time-of-day.
func parseHeading(line string) (scene.Heading, bool) {
	if line == "" {
		return scene.Heading{}, false
	}

	upper := strings.ToUpper(line)
	var sceneType scene.SceneType
	var rest string

	switch {
	case strings.HasPrefix(upper, "INT./EXT."):
		sceneType, rest = scene.SceneTypeIntExt, line[len("INT./EXT."):]
	case strings.HasPrefix(upper, "INT/EXT."):
		sceneType, rest = scene.SceneTypeIntExt, line[len("INT/EXT."):]
	case strings.HasPrefix(upper, "I/E."):
		sceneType, rest = scene.SceneTypeIntExt, line[len("I/E."):]
	case strings.HasPrefix(upper, "INT."):
		sceneType, rest = scene.SceneTypeInterior, line[len("INT."):]
	case strings.HasPrefix(upper, "EXT."):
		sceneType, rest = scene.SceneTypeExterior, line[len("EXT."):]
	case strings.HasPrefix(upper, "EST."):
		sceneType, rest = scene.SceneTypeEstablished, line[len("EST."):]
	case strings.HasPrefix(line, ".") && !strings.HasPrefix(line, ".."):
		// Forced heading.
		sceneType, rest = scene.SceneTypeOther, line[1:]
	default:
		return scene.Heading{}, false
	}

	location := strings.TrimSpace(rest)
	timeOfDay := ""
	if idx := strings.LastIndex(location, " - "); idx >= 0 {
		timeOfDay = strings.TrimSpace(location[idx+3:])
		location = strings.TrimSpace(location[:idx])
	}

	return scene.Heading{
		Raw:       line,
		Type:      sceneType,
		Location:  location,
		TimeOfDay: timeOfDay,
	}, true
}

// isCharacterCue reports whether the line opens a dialogue block: an
// uppercase cue followed by at least one non-blank line.
func isCharacterCue(line string, idx int, lines []string) bool {
	if len(line) == 0 || len(line) > 60 {
		return false
	}
	if idx+1 >= len(lines) || strings.TrimSpace(lines[idx+1]) == "" {
		return false
	}
	if _, ok := parseHeading(line); ok {
		return false
	}

	hasLetter := false
	for _, r := range line {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
			continue
		}
		if !unicode.IsDigit(r) && !strings.ContainsRune(" .()'-", r) {
			return false
		}
	}
	return hasLetter && !isStructural(line)
}

// isStructural matches lines that shape the document but carry no scene
// content: transitions, sections, synopses, page breaks.
func isStructural(line string) bool {
	if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "=") {
		return true
	}
	if strings.HasSuffix(line, "TO:") && line == strings.ToUpper(line) {
		return true
	}
	if strings.HasPrefix(line, ">") && !strings.HasSuffix(line, "<") {
		// Forced transition.
		return true
	}
	return false
}

// stripInvisibles removes boneyard comments and inline notes.
func stripInvisibles(text string) string {
	text = stripDelimited(text, "/*", "*/")
	text = stripDelimited(text, "[[", "]]")
	return text
}

// stripDelimited removes every start..end region, collapsing the blank
// lines the region owned.
func stripDelimited(text, start, end string) string {
	for {
		from := strings.Index(text, start)
		if from < 0 {
			return text
		}
		after := text[from+len(start):]
		to := strings.Index(after, end)
		if to < 0 {
			return strings.TrimRight(text[:from], " \t")
		}
		before := strings.TrimRight(text[:from], " \t")
		tail := after[to+len(end):]
		if strings.HasSuffix(before, "\n") && strings.HasPrefix(tail, "\n") {
			tail = strings.TrimLeft(tail, "\n")
			before = strings.TrimRight(before, "\n") + "\n\n"
			if tail == "" {
				before = strings.TrimRight(before, "\n") + "\n"
			}
		}
		text = before + tail
	}
}

// isText rejects binary input by scanning the first chunk for NUL bytes.
func isText(src []byte) bool {
	limit := len(src)
	if limit > 8192 {
		limit = 8192
	}
	for _, b := range src[:limit] {
		if b == 0 {
			return false
		}
	}
	return true
}

// Title extracts the document title from Fountain front matter, or "" when
// no title page exists.
func Title(src []byte) string {
	text := strings.ReplaceAll(string(src), "\r\n", "\n")
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			// Title page ends at the first blank line.
			return ""
		}
		if value, ok := strings.CutPrefix(trimmed, "Title:"); ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
