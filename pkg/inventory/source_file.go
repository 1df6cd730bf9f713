package inventory

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// fileSourceDoc is the on-disk shape of a file-backed source: a flat
// mapping of host name to vars.
//
//	hosts:
//	  web1:
//	    env: prod
//	  db1: {}
type fileSourceDoc struct {
	Hosts map[string]map[string]string `yaml:"hosts"`
}

// FileSource is a dynamic source backed by a YAML file. Fetch re-reads
// the file; Watch keeps a cached copy and only re-reads after fsnotify
// reports a write, so frequent refreshes stay cheap.
type FileSource struct {
	path   string
	logger zerolog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cached  []HostRecord
	dirty   bool
}

// NewFileSource creates a file-backed source for path. The file is not
// read until the first Fetch.
func NewFileSource(path string) *FileSource {
	return &FileSource{
		path:   path,
		logger: log.With().Str("component", "inventory-file").Str("path", path).Logger(),
		dirty:  true,
	}
}

// Name identifies the source by its file path.
func (s *FileSource) Name() string {
	return fmt.Sprintf("file:%s", s.path)
}

// Fetch reads the file and returns its host records. When a watcher is
// active and no change has been observed since the last read, the
// cached records are returned.
func (s *FileSource) Fetch() ([]HostRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher != nil && !s.dirty {
		return append([]HostRecord(nil), s.cached...), nil
	}

	records, err := s.read()
	if err != nil {
		return nil, err
	}
	s.cached = records
	s.dirty = false
	return append([]HostRecord(nil), records...), nil
}

func (s *FileSource) read() ([]HostRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory source: %w", err)
	}

	var doc fileSourceDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse inventory source: %w", err)
	}

	records := make([]HostRecord, 0, len(doc.Hosts))
	for name, vars := range doc.Hosts {
		records = append(records, HostRecord{Name: name, Vars: vars})
	}
	return records, nil
}

// Watch starts watching the backing file and marks the source dirty on
// writes, so the next Fetch re-reads it. The watcher stops when ctx is
// cancelled.
func (s *FileSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	go s.processEvents(ctx, watcher)

	s.logger.Info().Msg("Started watching inventory source")
	return nil
}

// processEvents marks the source dirty on write/create events.
func (s *FileSource) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	defer func() {
		_ = watcher.Close()
		s.mu.Lock()
		s.watcher = nil
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				s.logger.Debug().Str("op", event.Op.String()).Msg("Inventory source changed")
				s.mu.Lock()
				s.dirty = true
				s.mu.Unlock()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn().Err(err).Msg("Inventory watcher error")
		}
	}
}
