// Package metawrite rewrites machine-owned metadata blocks inside source
// documents. A block is a boneyard comment placed directly after a scene's
// text, so parsers strip it and content hashing never sees it. Only the
// delimited block is ever touched; every byte of heading, action, and
// dialogue is preserved exactly.
package metawrite

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/renameio"

	sdxerrors "github.com/Aman-CERP/scenedex/internal/errors"
)

// Block delimiters. The block is a standard boneyard comment, so any
// screenplay tool treats it as invisible.
const (
	blockStart = "/* scenedex:meta"
	blockEnd   = "*/"
)

// Status reports what a write did. Callers must handle each variant;
// Stale in particular means the document changed underneath us and the
// block was not written.
type Status string

const (
	// StatusUpdated means an existing block was replaced.
	StatusUpdated Status = "updated"
	// StatusInserted means no block existed and one was added.
	StatusInserted Status = "inserted"
	// StatusStale means the scene's text was not found in the document.
	StatusStale Status = "stale"
	// StatusMalformedReplaced means an unparseable block was overwritten.
	StatusMalformedReplaced Status = "malformed_replaced"
)

// Result describes the outcome of one metadata write.
type Result struct {
	Status  Status
	Changed bool // false when the rendered block matched what was on disk
}

// Block is the JSON payload stored between the delimiters. ContentHash
// lets the block self-identify even if it drifts from its scene.
type Block struct {
	ContentHash string                     `json:"content_hash"`
	Properties  map[string]json.RawMessage `json:"properties"`
}

// Write updates or inserts the metadata block for the scene whose raw text
// is sceneText. The document is rebuilt fully in memory and replaced in one
// rename, so a crash never leaves a half-written file. A scene no longer
// present in the document yields StatusStale together with a stale scene
// error, so callers can branch on either.
func Write(path, sceneText, contentHash string, properties map[string]json.RawMessage) (Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, sdxerrors.New(sdxerrors.ErrCodeFileNotFound,
				fmt.Sprintf("document %s not found", path), err)
		}
		return Result{}, fmt.Errorf("failed to read document: %w", err)
	}
	content := string(raw)

	sceneText = strings.TrimRight(sceneText, "\r\n")
	if sceneText == "" {
		return Result{}, sdxerrors.ValidationError("scene text must not be empty", nil)
	}

	// Parsers hand us LF-normalized scene text; the file on disk may be
	// CRLF-authored. Match and write in the document's own line endings.
	newline := "\n"
	if strings.Contains(content, "\r\n") {
		newline = "\r\n"
	}
	needle := sceneText
	spanStart := strings.Index(content, needle)
	if spanStart < 0 && newline == "\r\n" {
		needle = strings.ReplaceAll(sceneText, "\n", "\r\n")
		spanStart = strings.Index(content, needle)
	}
	if spanStart < 0 {
		return Result{Status: StatusStale}, sdxerrors.StaleSceneError(contentHash)
	}
	spanEnd := spanStart + len(needle)

	rendered, err := renderBlock(contentHash, properties)
	if err != nil {
		return Result{}, err
	}
	if newline == "\r\n" {
		rendered = strings.ReplaceAll(rendered, "\n", "\r\n")
	}

	newContent, status := splice(content, spanEnd, rendered, newline)
	if newContent == content {
		return Result{Status: status, Changed: false}, nil
	}

	if err := renameio.WriteFile(path, []byte(newContent), 0o644); err != nil {
		return Result{}, fmt.Errorf("failed to write document: %w", err)
	}
	return Result{Status: status, Changed: true}, nil
}

// renderBlock builds the delimited block text.
func renderBlock(contentHash string, properties map[string]json.RawMessage) (string, error) {
	if properties == nil {
		properties = map[string]json.RawMessage{}
	}
	payload, err := json.MarshalIndent(Block{
		ContentHash: contentHash,
		Properties:  properties,
	}, "", "  ")
	if err != nil {
		return "", sdxerrors.InternalError("failed to marshal metadata block", err)
	}
	return blockStart + "\n" + string(payload) + "\n" + blockEnd, nil
}

// splice replaces or inserts the block directly after the scene span and
// returns the new document text plus the status of what happened. newline is
// the document's line ending, used for everything splice writes.
func splice(content string, spanEnd int, rendered, newline string) (string, Status) {
	rest := content[spanEnd:]

	// Look for an existing block across the whitespace gap after the span.
	gap := 0
	for gap < len(rest) && (rest[gap] == '\n' || rest[gap] == ' ' || rest[gap] == '\t' || rest[gap] == '\r') {
		gap++
	}

	if strings.HasPrefix(rest[gap:], blockStart) {
		blockFrom := spanEnd + gap
		after := content[blockFrom+len(blockStart):]

		endIdx := strings.Index(after, blockEnd)
		if endIdx >= 0 {
			blockTo := blockFrom + len(blockStart) + endIdx + len(blockEnd)
			existing := content[blockFrom:blockTo]
			status := StatusUpdated
			if !blockWellFormed(existing) {
				status = StatusMalformedReplaced
			}
			return content[:blockFrom] + rendered + content[blockTo:], status
		}

		// No closing delimiter: treat everything up to the next blank line
		// (or end of file) as the damaged block and overwrite it.
		blockTo := blockFrom + len(blockStart) + len(after)
		if blank := strings.Index(after, newline+newline); blank >= 0 {
			blockTo = blockFrom + len(blockStart) + blank
		}
		return content[:blockFrom] + rendered + content[blockTo:], StatusMalformedReplaced
	}

	// No block: insert one after the span, separated by a blank line.
	var b strings.Builder
	b.WriteString(content[:spanEnd])
	b.WriteString(newline)
	b.WriteString(newline)
	b.WriteString(rendered)
	if gap == 0 && len(rest) > 0 {
		b.WriteString(newline)
		b.WriteString(newline)
	}
	b.WriteString(rest)
	return b.String(), StatusInserted
}

// blockWellFormed checks that the text between the delimiters parses as a
// block payload.
func blockWellFormed(block string) bool {
	inner := strings.TrimPrefix(block, blockStart)
	inner = strings.TrimSuffix(inner, blockEnd)
	var parsed Block
	return json.Unmarshal([]byte(inner), &parsed) == nil
}

// ReadBlocks extracts every metadata block in a document, in order.
// Malformed blocks are skipped.
func ReadBlocks(content string) []Block {
	var blocks []Block
	rest := content
	for {
		start := strings.Index(rest, blockStart)
		if start < 0 {
			return blocks
		}
		after := rest[start+len(blockStart):]
		end := strings.Index(after, blockEnd)
		if end < 0 {
			return blocks
		}
		var parsed Block
		if json.Unmarshal([]byte(after[:end]), &parsed) == nil {
			blocks = append(blocks, parsed)
		}
		rest = after[end+len(blockEnd):]
	}
}

// Strip removes every metadata block (well-formed or not) from content,
// collapsing the surrounding blank lines it owned. Parsers call this before
// hashing so a write never looks like an edit.
func Strip(content string) string {
	for {
		start := strings.Index(content, blockStart)
		if start < 0 {
			break
		}
		after := content[start+len(blockStart):]
		before := strings.TrimRight(content[:start], " \t\n")

		end := strings.Index(after, blockEnd)
		if end < 0 {
			content = before + "\n"
			break
		}
		tail := strings.TrimLeft(after[end+len(blockEnd):], " \t\n")
		switch {
		case before == "":
			content = tail
		case tail == "":
			content = before + "\n"
		default:
			content = before + "\n\n" + tail
		}
	}
	return content
}
