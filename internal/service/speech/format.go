package speech

import "strings"

// DefaultFormats lists the accept formats in probe order.
var DefaultFormats = []string{"audio/mp3", "audio/ogg;codec=opus", "audio/wav"}

// Prober reports whether the playback side can decode a format.
type Prober interface {
	CanPlay(format string) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(format string) bool

func (f ProberFunc) CanPlay(format string) bool { return f(format) }

// ChooseFormat returns the first format the prober supports, or "" when none
// is, in which case no accept hint is sent.
func ChooseFormat(p Prober, formats []string) string {
	if p == nil {
		return ""
	}
	for _, f := range formats {
		if p.CanPlay(f) {
			return f
		}
	}
	return ""
}

// FileExtension returns the file extension for an accept format.
func FileExtension(accept string) string {
	switch {
	case strings.Contains(accept, "ogg"), strings.Contains(accept, "opus"), strings.Contains(accept, "vorbis"):
		return "ogg"
	case strings.Contains(accept, "wav"):
		return "wav"
	case strings.Contains(accept, "mpeg"):
		return "mpeg"
	case strings.Contains(accept, "webm"):
		return "webm"
	case strings.Contains(accept, "flac"):
		return "flac"
	default:
		return "mp3"
	}
}
