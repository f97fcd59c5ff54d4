// Package canon turns extracted entity mentions into identity keys.
//
// Named mentions get a deterministic key (the normalized uppercase name).
// Generic, type-only mentions such as "a dog" are not keyed at extraction
// time; they are returned as candidates and resolved when merged into a store.
package canon

import (
	"strings"
	"unicode"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
)

const trimSet = "\"'`.,;:!?()[]{}<>*_"

// determiners that mark a mention as type-only when followed by lowercase
// words ("a dog", "some ghosts").
var determiners = map[string]struct{}{
	"a":       {},
	"an":      {},
	"some":    {},
	"any":     {},
	"another": {},
	"several": {},
	"many":    {},
	"every":   {},
}

// Normalize collapses whitespace and strips surrounding quotes and
// punctuation without changing case.
func Normalize(value string) string {
	value = strings.TrimFunc(value, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(trimSet, r)
	})
	return strings.Join(strings.Fields(value), " ")
}

// Canonicalize returns the identity key of a named entity. The type tag does
// not take part in the key: two mentions with the same name share a key and
// type clashes are detected by the merge policy.
//
// Canonicalize is idempotent.
func Canonicalize(rawName, typeTag string) string {
	return strings.ToUpper(Normalize(rawName))
}

// IsGeneric reports whether a mention names no specific entity. That is the
// case for empty mentions, mentions equal to their type tag and lowercase
// mentions introduced by a determiner.
func IsGeneric(rawName, typeTag string) bool {
	name := Normalize(rawName)
	if name == "" {
		return true
	}
	if t := Normalize(typeTag); t != "" && strings.EqualFold(name, t) {
		return true
	}
	first, rest, found := strings.Cut(name, " ")
	if !found {
		return false
	}
	if _, ok := determiners[strings.ToLower(first)]; !ok {
		return false
	}
	return !hasUpper(rest)
}

// GenericKey builds the synthetic key used for a generic mention that did
// not resolve to a named entity. Mentions of the same type that differ only
// in their determiner share a key.
func GenericKey(typeTag, mention string) string {
	t := strings.ToUpper(Normalize(typeTag))
	rest := stripDeterminer(Normalize(mention))
	if rest == "" {
		rest = t
	}
	return t + ":" + strings.ToUpper(rest)
}

func stripDeterminer(mention string) string {
	first, rest, found := strings.Cut(mention, " ")
	if !found {
		return mention
	}
	if _, ok := determiners[strings.ToLower(first)]; ok {
		return rest
	}
	return mention
}

func hasUpper(s string) bool {
	for _, r := range s {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

// Canonicalizer classifies raw mentions against a closed set of entity types.
type Canonicalizer struct {
	types Types
}

// New creates a canonicalizer for the given entity types.
func New(types Types) *Canonicalizer {
	return &Canonicalizer{types: types}
}

// Types returns the configured entity types.
func (c *Canonicalizer) Types() Types {
	return c.types
}

// Classify builds the fragment entity for a mention. ok is false when the
// type is not part of the configured set or the mention is unusable.
func (c *Canonicalizer) Classify(rawName, rawType, description string) (entity common.FragmentEntity, ok bool) {
	typ, ok := c.types.Normalize(rawType)
	if !ok {
		return common.FragmentEntity{}, false
	}
	name := Normalize(rawName)
	description = strings.TrimSpace(description)

	if IsGeneric(name, typ) {
		mention := name
		if mention == "" {
			mention = strings.ToLower(typ)
		}
		return common.FragmentEntity{
			Candidate: &common.GenericCandidate{
				Type:        typ,
				Mention:     mention,
				Description: description,
			},
			Name:        mention,
			Type:        typ,
			Description: description,
		}, true
	}

	key := Canonicalize(name, typ)
	if key == "" {
		return common.FragmentEntity{}, false
	}
	return common.FragmentEntity{
		Key:         key,
		Name:        name,
		Type:        typ,
		Description: description,
	}, true
}
