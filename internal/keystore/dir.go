package keystore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"nbgrade/internal/types"
)

// Dir stores one raw key file per principal as <root>/<principal>.key.
// This matches the layout grading pipelines typically sync to a secret
// store, so the files must stay exactly the key bytes with no framing.
type Dir struct {
	root string
}

// NewDir creates the directory if needed and returns a file-backed store.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create keys dir: %w", err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) Get(principalID string) (types.KeyRecord, error) {
	path, err := d.keyPath(principalID)
	if err != nil {
		return types.KeyRecord{}, err
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return types.KeyRecord{}, ErrNotFound
	}
	if err != nil {
		return types.KeyRecord{}, fmt.Errorf("stat key file: %w", err)
	}
	key, err := os.ReadFile(path)
	if err != nil {
		return types.KeyRecord{}, fmt.Errorf("read key file: %w", err)
	}
	return types.KeyRecord{
		PrincipalID: principalID,
		Key:         key,
		CreatedAt:   info.ModTime(),
	}, nil
}

func (d *Dir) Put(rec types.KeyRecord) error {
	path, err := d.keyPath(rec.PrincipalID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, rec.Key, 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

func (d *Dir) List() ([]types.KeyRecord, error) {
	matches, err := filepath.Glob(filepath.Join(d.root, "*.key"))
	if err != nil {
		return nil, fmt.Errorf("list key files: %w", err)
	}
	recs := make([]types.KeyRecord, 0, len(matches))
	for _, path := range matches {
		principal := strings.TrimSuffix(filepath.Base(path), ".key")
		rec, err := d.Get(principal)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// keyPath rejects principal identifiers that would escape the keys dir.
func (d *Dir) keyPath(principalID string) (string, error) {
	if principalID == "" || strings.ContainsAny(principalID, `/\`) || principalID == "." || principalID == ".." {
		return "", fmt.Errorf("invalid principal id %q", principalID)
	}
	return filepath.Join(d.root, principalID+".key"), nil
}
