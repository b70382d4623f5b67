// Package index orchestrates document synchronization: parse, hash, diff,
// commit, then per-scene embedding, extraction, and metadata write-back.
package index

import "sort"

// ChangeSet is the ephemeral result of diffing a document's previous hash
// sequence against its current parse. Consumed immediately, never persisted.
type ChangeSet struct {
	Added   []string // Hashes new to the document
	Removed []string // Hashes no longer present in the document
}

// Empty reports whether the sync produced no content changes.
func (c ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0
}

// Diff computes the change set between a document's previous and current
// hash sequences. Identity is content, not location: reordering scenes or
// duplicating identical content produces no changes, only textual edits do.
// Both output sets are sorted for deterministic reporting.
func Diff(oldHashes, newHashes []string) ChangeSet {
	oldSet := make(map[string]bool, len(oldHashes))
	for _, h := range oldHashes {
		oldSet[h] = true
	}
	newSet := make(map[string]bool, len(newHashes))
	for _, h := range newHashes {
		newSet[h] = true
	}

	var added, removed []string
	for h := range newSet {
		if !oldSet[h] {
			added = append(added, h)
		}
	}
	for h := range oldSet {
		if !newSet[h] {
			removed = append(removed, h)
		}
	}

	sort.Strings(added)
	sort.Strings(removed)
	return ChangeSet{Added: added, Removed: removed}
}
