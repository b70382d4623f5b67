package scene

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Field separator inside the canonical hash form. Prevents boundary
// ambiguity between heading, characters, and text.
const hashSep = "\x1e"

// Hash computes the content hash for a scene: SHA-256 over the canonical
// form of heading + elements, hex-encoded.
//
// The canonical form normalizes whitespace (CRLF, trailing spaces, internal
// runs) and uppercases structural fields (scene type, character cues) so the
// hash is stable across formatting-only edits, position changes, and
// metadata-block rewrites. Any edit to the actual text produces a new hash.
func Hash(heading Heading, elements []*Element) string {
	var b strings.Builder

	b.WriteString(string(canonicalType(heading.Type)))
	b.WriteString(hashSep)
	b.WriteString(collapseWhitespace(strings.ToUpper(heading.Location)))
	b.WriteString(hashSep)
	b.WriteString(collapseWhitespace(strings.ToUpper(heading.TimeOfDay)))

	for _, el := range elements {
		b.WriteString(hashSep)
		b.WriteString(string(el.Kind))
		b.WriteString(hashSep)
		if el.Kind == ElementDialogue {
			b.WriteString(collapseWhitespace(strings.ToUpper(el.Character)))
			b.WriteString(hashSep)
			b.WriteString(collapseWhitespace(el.Parenthetical))
			b.WriteString(hashSep)
		}
		b.WriteString(canonicalText(el.Text))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ComputeHashes assigns ContentHash and Ordinal to every scene in document
// order and returns the hash sequence.
func ComputeHashes(scenes []*Scene) []string {
	hashes := make([]string, len(scenes))
	for i, s := range scenes {
		s.Ordinal = i
		s.ContentHash = Hash(s.Heading, s.Elements)
		hashes[i] = s.ContentHash
	}
	return hashes
}

// canonicalType maps unknown scene types to OTHER so the hash never depends
// on parser-specific type strings.
func canonicalType(t SceneType) SceneType {
	switch t {
	case SceneTypeInterior, SceneTypeExterior, SceneTypeIntExt, SceneTypeEstablished:
		return t
	default:
		return SceneTypeOther
	}
}

// canonicalText normalizes multi-line text: line endings to LF, trailing
// whitespace stripped per line, leading/trailing blank lines dropped, runs
// of blank lines collapsed to one.
func canonicalText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")

	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blank = true
			continue
		}
		if blank && len(out) > 0 {
			out = append(out, "")
		}
		blank = false
		out = append(out, collapseWhitespace(line))
	}
	return strings.Join(out, "\n")
}

// collapseWhitespace trims and collapses internal whitespace runs to a
// single space.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// joinElements builds the searchable text form used by the lexical index
// and the embedder.
func joinElements(elements []*Element) string {
	var b strings.Builder
	for i, el := range elements {
		if i > 0 {
			b.WriteString("\n")
		}
		if el.Kind == ElementDialogue && el.Character != "" {
			b.WriteString(el.Character)
			b.WriteString(": ")
		}
		b.WriteString(el.Text)
	}
	return b.String()
}
