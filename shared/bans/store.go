package bans

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quasilyte/gdata"
)

// Store persists the ban table.
type Store interface {
	Load() ([]Record, error)
	Save(records []Record) error
}

// FileStore keeps the ban list in a plain text file.
type FileStore struct {
	Path string
}

func (s FileStore) Load() ([]Record, error) {
	f, err := os.Open(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bans: open: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func (s FileStore) Save(records []Record) error {
	var buf bytes.Buffer
	if err := Format(&buf, records); err != nil {
		return err
	}
	tmp := s.Path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("bans: mkdir: %w", err)
	}
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("bans: write: %w", err)
	}
	return os.Rename(tmp, s.Path)
}

// GDataStore keeps the ban list in the per-user application data managed
// by gdata.
type GDataStore struct {
	m    *gdata.Manager
	item string
}

// OpenGData opens the data directory of appName.
func OpenGData(appName string) (*GDataStore, error) {
	m, err := gdata.Open(gdata.Config{AppName: appName})
	if err != nil {
		return nil, fmt.Errorf("bans: gdata: %w", err)
	}
	return &GDataStore{m: m, item: "banlist"}, nil
}

func (s *GDataStore) Load() ([]Record, error) {
	data, err := s.m.LoadItem(s.item)
	if err != nil {
		return nil, fmt.Errorf("bans: load: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	return Parse(bytes.NewReader(data))
}

func (s *GDataStore) Save(records []Record) error {
	var buf bytes.Buffer
	if err := Format(&buf, records); err != nil {
		return err
	}
	if err := s.m.SaveItem(s.item, buf.Bytes()); err != nil {
		return fmt.Errorf("bans: save: %w", err)
	}
	return nil
}
