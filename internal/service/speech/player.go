package speech

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// FilePlayer writes each played request to Dir as
// transcript-<generation>.<ext>.
type FilePlayer struct {
	Dir string
}

// Play implements Player.
func (p FilePlayer) Play(ctx context.Context, generation uint64, audio *Audio) error {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("transcript-%d.%s", generation, FileExtension(audio.ContentType))
	path := filepath.Join(p.Dir, name)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, readerWithContext{ctx: ctx, r: audio.Body})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return err
	}
	log.Debug().Str("path", path).Int64("bytes", n).Msg("Wrote synthesized audio")
	return nil
}

type readerWithContext struct {
	ctx context.Context
	r   io.Reader
}

func (r readerWithContext) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
