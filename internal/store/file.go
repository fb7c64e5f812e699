package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"

	"standby/internal/fileutil"
	"standby/internal/model"
)

// record is the on-disk shape: two keys, both present or both absent.
type record struct {
	StartMillis *int64  `json:"next_event_millis,omitempty"`
	Title       *string `json:"next_event_title,omitempty"`
}

// FileStore persists the cached event as a small JSON key-value file.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save writes ev, or removes both keys when ev is nil.
func (s *FileStore) Save(ev *model.Event) error {
	if ev == nil {
		return fileutil.RemoveIfExists(s.path)
	}
	millis := ev.StartTime.UnixMilli()
	title := ev.Title
	data, err := json.Marshal(record{StartMillis: &millis, Title: &title})
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(s.path, data, 0o600)
}

// Load reads the cached event. A missing file, or a file lacking either key,
// yields (nil, nil).
func (s *FileStore) Load() (*model.Event, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec.StartMillis == nil || rec.Title == nil {
		return nil, nil
	}
	return &model.Event{
		StartTime: time.UnixMilli(*rec.StartMillis).UTC(),
		Title:     *rec.Title,
	}, nil
}
