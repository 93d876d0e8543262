package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileProvider reads secrets from JSON files in a directory, one file per key.
// This is the layout the game client uses (Assets/Config/SupabaseConfig.json).
type FileProvider struct {
	dir string
}

// NewFileProvider serves secrets stored under dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

// GetSecret decodes dir/key as a JSON object of strings.
func (p *FileProvider) GetSecret(_ context.Context, key string) (map[string]string, error) {
	path := filepath.Join(p.dir, key)
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read secret file [%s]: %w", path, err)
	}

	var result map[string]string
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("invalid secret format for [%s]: %w", path, err)
	}
	return result, nil
}
