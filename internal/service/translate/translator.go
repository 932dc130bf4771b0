// Package translate keeps translations aligned with the transcript window and
// re-translates only the slots whose source text changed.
package translate

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable is reported by a translator that cannot be reached at all.
// Only this error hands a request over to the secondary translator.
var ErrUnavailable = errors.New("translation service unavailable")

// Request is a single translation request.
type Request struct {
	Text string
	// Source is the source model's language tag.
	Source string
	// Voice is the target voice name. Its first two characters are the
	// target language.
	Voice string
	// Platform tags requests sent to the secondary translator.
	Platform string
}

// Translator translates one piece of text.
type Translator interface {
	Translate(ctx context.Context, req Request) (string, error)
}

// TranslatorFunc adapts a function to Translator.
type TranslatorFunc func(ctx context.Context, req Request) (string, error)

func (f TranslatorFunc) Translate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// SlotError is a failed translation for one slot. It never aborts a pass.
type SlotError struct {
	Index    int
	Provider string
	Err      error
}

func (e *SlotError) Error() string {
	return fmt.Sprintf("translate slot %d via %s: %v", e.Index, e.Provider, e.Err)
}

func (e *SlotError) Unwrap() error {
	return e.Err
}
