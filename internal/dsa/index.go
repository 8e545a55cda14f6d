// Package dsa provides the substring index behind in-memory document search.
// Uses go-radix for a compressed prefix tree over word suffixes: a term
// occurs inside a word exactly when it is a prefix of one of the word's
// suffixes.
package dsa

import (
	"sort"

	"github.com/armon/go-radix"
)

// SubstringIndex maps word substrings to the ids of documents containing them.
// It is not safe for concurrent mutation; callers hold their own lock.
//
// Time Complexity: Add is O(w^2) per word of length w, Lookup is O(k + m)
// where k is term length and m the number of matching suffixes.
type SubstringIndex struct {
	tree *radix.Tree
	keys map[string][]string // doc id → suffixes it was indexed under
}

// NewSubstringIndex creates an empty index.
func NewSubstringIndex() *SubstringIndex {
	return &SubstringIndex{
		tree: radix.New(),
		keys: make(map[string][]string),
	}
}

// Add indexes words for id, replacing anything indexed for id before.
func (x *SubstringIndex) Add(id string, words []string) {
	x.Remove(id)

	seen := make(map[string]bool)
	var keys []string
	for _, w := range words {
		runes := []rune(w)
		for i := range runes {
			suffix := string(runes[i:])
			if seen[suffix] {
				continue
			}
			seen[suffix] = true
			keys = append(keys, suffix)

			ids, ok := x.tree.Get(suffix)
			if !ok {
				ids = map[string]struct{}{}
				x.tree.Insert(suffix, ids)
			}
			ids.(map[string]struct{})[id] = struct{}{}
		}
	}
	x.keys[id] = keys
}

// Remove drops id from the index. Unknown ids are ignored.
func (x *SubstringIndex) Remove(id string) {
	for _, suffix := range x.keys[id] {
		v, ok := x.tree.Get(suffix)
		if !ok {
			continue
		}
		ids := v.(map[string]struct{})
		delete(ids, id)
		if len(ids) == 0 {
			x.tree.Delete(suffix)
		}
	}
	delete(x.keys, id)
}

// Lookup returns the sorted ids of documents with a word containing term.
func (x *SubstringIndex) Lookup(term string) []string {
	if term == "" {
		return nil
	}
	found := make(map[string]struct{})
	x.tree.WalkPrefix(term, func(_ string, v interface{}) bool {
		for id := range v.(map[string]struct{}) {
			found[id] = struct{}{}
		}
		return false // continue walking
	})

	ids := make([]string, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Size returns the number of indexed documents.
func (x *SubstringIndex) Size() int {
	return len(x.keys)
}
