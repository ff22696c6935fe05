// Package delivery turns a verified token into a file in the user's chat.
package delivery

import (
	"errors"

	"movielinks-tg-bot/internal/storage"
)

// ErrUnavailable means the catalog no longer holds the requested file.
var ErrUnavailable = errors.New("file not available")

func Resolve(m *storage.Movie, part int, quality string) (storage.QualityFile, error) {
	if m == nil {
		return storage.QualityFile{}, ErrUnavailable
	}
	if part < 1 {
		part = 1
	}
	qs, ok := m.QualitiesFor(part)
	if !ok {
		return storage.QualityFile{}, ErrUnavailable
	}
	f, ok := qs[quality]
	if !ok || f.FileID == "" {
		return storage.QualityFile{}, ErrUnavailable
	}
	return f, nil
}
