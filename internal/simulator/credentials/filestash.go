package credentials

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// FileStash keeps credentials in a single JSON file, which is enough for
// local runs and small load tests. The file is rewritten atomically on every
// change; a missing or corrupt file is treated as empty.
type FileStash struct {
	path string
	mu   sync.Mutex
}

func NewFileStash(path string) (*FileStash, error) {
	if path == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		path = filepath.Join(home, ".client-simulator", "credentials.json")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.WithStack(err)
	}
	return &FileStash{path: path}, nil
}

func (s *FileStash) Get(ctx context.Context, username string) (*Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	credential, ok := records[username]
	return credential, ok, nil
}

func (s *FileStash) Put(ctx context.Context, credential *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	records[credential.Username] = credential
	return s.save(records)
}

func (s *FileStash) Delete(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	if _, ok := records[username]; !ok {
		return nil
	}
	delete(records, username)
	return s.save(records)
}

func (s *FileStash) Close() error {
	return nil
}

func (s *FileStash) load() map[string]*Credential {
	records := map[string]*Credential{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("Failed to read credential stash %s: %v", s.path, err)
		}
		return records
	}
	if err := json.Unmarshal(data, &records); err != nil {
		log.Warnf("Credential stash %s is corrupt, starting over: %v", s.path, err)
		return map[string]*Credential{}
	}
	return records
}

func (s *FileStash) save(records map[string]*Credential) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.Rename(tmp, s.path))
}
