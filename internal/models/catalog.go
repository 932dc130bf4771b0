package models

import (
	"fmt"
	"slices"
	"strings"
)

// Model is a speech recognition model offered by the catalog endpoint.
type Model struct {
	Name        string `json:"name" yaml:"name"`
	Language    string `json:"language" yaml:"language"`
	Description string `json:"description" yaml:"description"`
	Rate        int    `json:"rate" yaml:"rate"`
}

// Voice is a synthesis voice offered by the catalog endpoint.
type Voice struct {
	Name        string `json:"name" yaml:"name"`
	Language    string `json:"language" yaml:"language"`
	Description string `json:"description" yaml:"description"`
}

// ModelMap maps a two-letter source language to the target languages the
// translator supports for it.
type ModelMap map[string][]string

// Catalog is the payload of the catalog endpoint.
type Catalog struct {
	ModelMap ModelMap `json:"modelMap"`
	Models   []Model  `json:"models"`
	Voices   []Voice  `json:"voices"`
}

// NormalizeOptions controls Catalog.Normalize.
type NormalizeOptions struct {
	// MinModelRate drops models whose sample rate is not above it. Zero keeps all.
	MinModelRate int
	// VoiceFilter keeps only voices whose name contains it. Empty keeps all.
	VoiceFilter string
	// DecorateDescriptions prefixes model descriptions with "[language]  ".
	DecorateDescriptions bool
}

// Normalize returns a copy of the catalog with models filtered, decorated and
// sorted by language then description, and voices filtered.
func (c Catalog) Normalize(opts NormalizeOptions) Catalog {
	out := Catalog{ModelMap: make(ModelMap, len(c.ModelMap))}
	for src, targets := range c.ModelMap {
		out.ModelMap[src] = dedupe(targets)
	}

	for _, m := range c.Models {
		if opts.MinModelRate > 0 && m.Rate <= opts.MinModelRate {
			continue
		}
		if opts.DecorateDescriptions {
			m.Description = fmt.Sprintf("[%s]  %s", m.Language, m.Description)
		}
		out.Models = append(out.Models, m)
	}
	slices.SortStableFunc(out.Models, func(a, b Model) int {
		if n := strings.Compare(a.Language, b.Language); n != 0 {
			return n
		}
		return strings.Compare(a.Description, b.Description)
	})

	for _, v := range c.Voices {
		if opts.VoiceFilter != "" && !strings.Contains(v.Name, opts.VoiceFilter) {
			continue
		}
		out.Voices = append(out.Voices, v)
	}
	return out
}

// FindModel returns the model with the given name.
func (c Catalog) FindModel(name string) (Model, bool) {
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	return Model{}, false
}

// Lang returns the two-letter language code of a language tag or a voice
// name such as "es-ES_LauraV3Voice".
func Lang(tag string) string {
	if len(tag) < 2 {
		return tag
	}
	return tag[:2]
}

// SameLanguage reports whether two tags share a two-letter language code.
func SameLanguage(a, b string) bool {
	return a != "" && b != "" && Lang(a) == Lang(b)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
