package api

import (
	"io/fs"
	"net/http"

	"github.com/book-expert/speaker-service/internal/audiofile"
)

// playableFS exposes only published audio files: no directory listings and
// no hidden partial writes.
type playableFS struct {
	root http.FileSystem
}

func (p playableFS) Open(name string) (http.File, error) {
	if !audiofile.IsPlayable(name) {
		return nil, fs.ErrNotExist
	}

	file, err := p.root.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		_ = file.Close()

		return nil, fs.ErrNotExist
	}

	return file, nil
}
