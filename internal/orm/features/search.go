package features

import (
	"sort"
	"strings"
	"unicode"

	"github.com/conduit-lang/docengine/internal/orm/hooks"
	"github.com/conduit-lang/docengine/internal/orm/schema"
	"github.com/conduit-lang/docengine/internal/orm/store"
)

const (
	KeywordsField = "_keywords"

	HookIndexKeywords = "indexKeywords"

	minKeywordLength = 2
)

// Search derives lowercase keywords from the readable string properties, for
// array-contains lookups
type Search struct{}

// Name implements Plugin
func (s *Search) Name() string { return "search" }

// Extend implements Plugin
func (s *Search) Extend(spec *schema.ModelSpec) error {
	if err := addProperty(spec, KeywordsField, schema.PropertyDef{
		Type:  string(schema.TypeArray),
		Items: &schema.PropertyDef{Type: string(schema.TypeString)},
		XMeta: readOnly(),
	}); err != nil {
		return err
	}
	spec.AddCallback(string(hooks.ActionSave), string(hooks.StageBefore), HookIndexKeywords)
	return nil
}

// Register implements Plugin
func (s *Search) Register(catalog *hooks.Catalog) {
	catalog.Define(HookIndexKeywords, s.Index)
}

// Index rebuilds the keyword list of doc
func (s *Search) Index(ctx *hooks.Context, doc store.Document) (store.Document, error) {
	seen := make(map[string]bool)
	for name, value := range doc {
		if name == KeywordsField || schema.IsSystemField(name) {
			continue
		}
		if ctx.Model != nil {
			field, ok := ctx.Model.Properties[name]
			if !ok || field.JSONType != schema.TypeString || !field.Extended.IsReadable() {
				continue
			}
		}
		text, ok := value.(string)
		if !ok {
			continue
		}
		for _, word := range Keywords(text) {
			seen[word] = true
		}
	}

	words := make([]interface{}, 0, len(seen))
	for _, w := range sortedWords(seen) {
		words = append(words, w)
	}
	return store.Document{KeywordsField: words}, nil
}

// Keywords splits text into lowercase words of at least two characters
func Keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= minKeywordLength {
			out = append(out, f)
		}
	}
	return out
}

func sortedWords(set map[string]bool) []string {
	words := make([]string, 0, len(set))
	for w := range set {
		words = append(words, w)
	}
	sort.Strings(words)
	return words
}
