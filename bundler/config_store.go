package bundler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

var ErrNoConfig = errors.New("no deployment config stored")

// ConfigLoader returns a fresh deployment config snapshot on every call
type ConfigLoader interface {
	Load(ctx context.Context) (*DeploymentConfig, error)
}

// ConfigStore persists the operator's deployment document.
// Store replaces the previous document atomically and does not validate its content.
type ConfigStore interface {
	ConfigLoader
	Store(ctx context.Context, doc []byte) error
	Raw(ctx context.Context) ([]byte, error)
}

// LoadSnapshot reads the raw document from store and decodes it
func LoadSnapshot(ctx context.Context, store ConfigStore) (*DeploymentConfig, error) {
	data, err := store.Raw(ctx)
	if err != nil {
		return nil, errors.Join(err, ErrConfiguration)
	}
	return DecodeDeploymentConfig(data)
}

// FileConfigStore keeps the document in a single json file
type FileConfigStore struct {
	path string
}

func NewFileConfigStore(path string) *FileConfigStore {
	return &FileConfigStore{path: path}
}

func (s *FileConfigStore) Load(ctx context.Context) (*DeploymentConfig, error) {
	return LoadSnapshot(ctx, s)
}

func (s *FileConfigStore) Raw(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoConfig
	}
	return data, err
}

// Store writes into a temporary file next to the target and renames it,
// so readers see either the old or the new document.
func (s *FileConfigStore) Store(_ context.Context, doc []byte) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(doc); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
