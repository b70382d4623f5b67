// Package scene defines the structured scene model produced by upstream
// parsers and the content-hash identity derived from it.
package scene

import (
	"context"
	"encoding/json"
)

// SceneType classifies a scene heading.
type SceneType string

const (
	SceneTypeInterior    SceneType = "INT"
	SceneTypeExterior    SceneType = "EXT"
	SceneTypeIntExt      SceneType = "INT/EXT"
	SceneTypeEstablished SceneType = "EST"
	SceneTypeOther       SceneType = "OTHER"
)

// Heading is the structural header of a scene: type, location, and an
// optional time-of-day qualifier.
type Heading struct {
	Raw       string    // Original heading line as authored
	Type      SceneType // INT, EXT, INT/EXT, EST, OTHER
	Location  string    // "COFFEE SHOP"
	TimeOfDay string    // "NIGHT", "DAY", "" if absent
}

// ElementKind distinguishes scene body elements.
type ElementKind string

const (
	ElementAction   ElementKind = "action"
	ElementDialogue ElementKind = "dialogue"
)

// Element is one ordered unit of scene body content. Dialogue elements carry
// the speaking character; action elements leave it empty.
type Element struct {
	Kind          ElementKind
	Character     string // Dialogue only, as authored (e.g. "SARAH")
	Parenthetical string // Dialogue only, without surrounding parens
	Text          string
}

// Span records where a scene's authored text lives in the source document.
// Offsets are byte positions; Text is the exact original bytes, including the
// heading but excluding any trailing metadata block.
type Span struct {
	Start int
	End   int
	Text  string
}

// Scene is a retrievable unit of structured document text.
// Identity is ContentHash, a pure function of heading + action + dialogue
// content. The metadata map is derived data and never participates in the
// hash; two textually identical scenes share one hash and one metadata
// record regardless of document or position.
type Scene struct {
	ContentHash string
	Ordinal     int // Position within its document's current revision
	Heading     Heading
	Elements    []*Element
	Span        Span
	Metadata    map[string]json.RawMessage
}

// Parser turns a raw document into an ordered scene list. Implementations
// own the document grammar; the indexing core only consumes their output.
// A Parser must exclude machine-written metadata blocks from element text so
// that metadata rewrites are invisible to hashing.
type Parser interface {
	Parse(ctx context.Context, path string, src []byte) ([]*Scene, error)
}

// Text returns the scene's searchable body text: action and dialogue lines
// joined in document order, dialogue prefixed with the character cue.
func (s *Scene) Text() string {
	return joinElements(s.Elements)
}
