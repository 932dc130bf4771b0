// Package selection tracks the selected source model and target voice and
// derives the candidate voices a model can be translated into.
package selection

import (
	"errors"
	"slices"
	"strings"
	"sync"

	"live-translate-service/internal/models"
)

var (
	// ErrUnknownModel is returned when selecting a model not in the catalog.
	ErrUnknownModel = errors.New("unknown source model")
	// ErrUnknownVoice is returned when selecting a voice that is not a candidate.
	ErrUnknownVoice = errors.New("voice is not a candidate for the selected model")
)

// State is the model and voice selection. Safe for concurrent use.
//
// When candidates is non-empty the selected voice is one of them, otherwise no
// voice is selected.
type State struct {
	mu         sync.RWMutex
	catalog    models.Catalog
	model      *models.Model
	sourceLang string
	candidates []models.Voice
	voice      *models.Voice
}

// New creates an empty selection.
func New() *State {
	return &State{}
}

// Change reports how a catalog replacement affected the selection.
type Change struct {
	// Model is set when the selected model is no longer offered.
	Model bool
	// Voice is set when the selected voice was replaced or cleared.
	Voice bool
}

// SetCatalog replaces the catalog. The current model is re-selected if it is
// still offered, otherwise the selection is cleared.
func (s *State) SetCatalog(c models.Catalog) Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	prevVoice := nameOf(s.voice)
	s.catalog = c
	if s.model != nil {
		if m, ok := c.FindModel(s.model.Name); ok {
			s.selectModel(m)
			return Change{Voice: nameOf(s.voice) != prevVoice}
		}
	}
	change := Change{Model: s.model != nil, Voice: prevVoice != ""}
	s.model = nil
	s.sourceLang = ""
	s.candidates = nil
	s.voice = nil
	return change
}

func nameOf(v *models.Voice) string {
	if v == nil {
		return ""
	}
	return v.Name
}

// Catalog returns the current catalog.
func (s *State) Catalog() models.Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

// SelectModel selects a source model and recomputes the candidate voices.
func (s *State) SelectModel(name string) (models.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.catalog.FindModel(name)
	if !ok {
		return models.Model{}, ErrUnknownModel
	}
	s.selectModel(m)
	return m, nil
}

func (s *State) selectModel(m models.Model) {
	s.model = &m
	s.sourceLang = models.Lang(m.Language)
	s.candidates = Candidates(s.catalog, s.sourceLang)

	if s.voice != nil {
		if i := indexOf(s.candidates, s.voice.Name); i >= 0 {
			v := s.candidates[i]
			s.voice = &v
			return
		}
	}
	s.voice = nil
	if len(s.candidates) > 0 {
		v := s.candidates[0]
		s.voice = &v
	}
}

// SelectVoice selects one of the candidate voices.
func (s *State) SelectVoice(name string) (models.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := indexOf(s.candidates, name)
	if i < 0 {
		return models.Voice{}, ErrUnknownVoice
	}
	v := s.candidates[i]
	s.voice = &v
	return v, nil
}

// Model returns the selected model.
func (s *State) Model() (models.Model, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.model == nil {
		return models.Model{}, false
	}
	return *s.model, true
}

// Voice returns the selected voice.
func (s *State) Voice() (models.Voice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.voice == nil {
		return models.Voice{}, false
	}
	return *s.voice, true
}

// SourceLang returns the two-letter language of the selected model.
func (s *State) SourceLang() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sourceLang
}

// Candidates returns the candidate voices of the selected model.
func (s *State) Candidates() []models.Voice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.candidates)
}

// Candidates returns the voices whose language equals sourceLang, plus the
// voices whose language is a translation target of sourceLang, sorted by
// language then description.
func Candidates(c models.Catalog, sourceLang string) []models.Voice {
	targets := c.ModelMap[sourceLang]
	var out []models.Voice
	for _, v := range c.Voices {
		lang := models.Lang(v.Language)
		if lang == sourceLang || slices.Contains(targets, lang) {
			out = append(out, v)
		}
	}
	slices.SortStableFunc(out, func(a, b models.Voice) int {
		if n := strings.Compare(a.Language, b.Language); n != 0 {
			return n
		}
		return strings.Compare(a.Description, b.Description)
	})
	return out
}

func indexOf(voices []models.Voice, name string) int {
	return slices.IndexFunc(voices, func(v models.Voice) bool { return v.Name == name })
}
