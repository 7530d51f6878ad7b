package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FileWatcher mirrors a JSON session file ({"id": ..., "role": ...}) into a Store.
// A missing or empty file means logged out.
type FileWatcher struct {
	path   string
	store  *Store
	logger zerolog.Logger
}

func NewFileWatcher(path string, store *Store, logger zerolog.Logger) (*FileWatcher, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("session file path is required")
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return &FileWatcher{
		path:   filepath.Clean(abs),
		store:  store,
		logger: logger.With().Str("component", "session").Logger(),
	}, nil
}

// Load reads the session file once and applies it to the store.
func (w *FileWatcher) Load() error {
	p, err := readPrincipalFile(w.path)
	if err != nil {
		return err
	}
	if p == nil {
		w.store.Logout()
		return nil
	}
	w.store.Login(*p)
	return nil
}

// Run loads the file and follows changes to it until ctx is done. The parent
// directory is watched so that atomic replace-by-rename is picked up.
func (w *FileWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	if err := w.Load(); err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("initial session load failed")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := w.Load(); err != nil {
				w.logger.Warn().Err(err).Str("path", w.path).Msg("session file unreadable; keeping current principal")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("session watcher error")
		}
	}
}

func readPrincipalFile(path string) (*Principal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var p Principal
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	if !p.Valid() {
		return nil, nil
	}
	return &p, nil
}
