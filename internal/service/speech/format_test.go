package speech

import "testing"

func TestChooseFormat(t *testing.T) {
	tests := []struct {
		name      string
		supported map[string]bool
		want      string
	}{
		{"mp3 first", map[string]bool{"audio/mp3": true, "audio/wav": true}, "audio/mp3"},
		{"ogg before wav", map[string]bool{"audio/ogg;codec=opus": true, "audio/wav": true}, "audio/ogg;codec=opus"},
		{"wav last", map[string]bool{"audio/wav": true}, "audio/wav"},
		{"none", map[string]bool{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ProberFunc(func(f string) bool { return tt.supported[f] })
			if got := ChooseFormat(p, DefaultFormats); got != tt.want {
				t.Errorf("ChooseFormat() = %q, want %q", got, tt.want)
			}
		})
	}

	if got := ChooseFormat(nil, DefaultFormats); got != "" {
		t.Errorf("expected no hint without a prober, got %q", got)
	}
}

func TestFileExtension(t *testing.T) {
	tests := map[string]string{
		"audio/ogg;codecs=opus":   "ogg",
		"audio/ogg;codecs=vorbis": "ogg",
		"audio/wav":               "wav",
		"audio/mpeg":              "mpeg",
		"audio/webm":              "webm",
		"audio/flac":              "flac",
		"audio/mp3":               "mp3",
		"":                        "mp3",
	}
	for accept, want := range tests {
		if got := FileExtension(accept); got != want {
			t.Errorf("FileExtension(%q) = %q, want %q", accept, got, want)
		}
	}
}
