package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// fileStore keeps one directory per handle with identity.json and state.json,
// both whole-document JSON rewritten atomically (temp file + rename).
type fileStore struct {
	paths Paths
}

func openFile(dir string) (Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store: data dir is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, "instances"), 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	return &fileStore{paths: Paths{Root: dir}}, nil
}

func (s *fileStore) Get(handle string) (Record, bool, error) {
	if err := checkHandle(handle); err != nil {
		return Record{}, false, err
	}

	var rec Record
	identity, err := os.ReadFile(s.paths.IdentityFile(handle))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("store: read identity for %s: %w", handle, err)
	}
	if err := json.Unmarshal(identity, &rec.Identity); err != nil {
		return Record{}, false, fmt.Errorf("store: parse identity for %s: %w", handle, err)
	}

	// A missing or corrupt state file degrades to the zero state: the
	// scheduler treats unknown timing state as due, which is the safe side.
	if state, err := os.ReadFile(s.paths.StateFile(handle)); err == nil {
		_ = json.Unmarshal(state, &rec.State)
	} else if !os.IsNotExist(err) {
		return Record{}, false, fmt.Errorf("store: read state for %s: %w", handle, err)
	}
	return rec, true, nil
}

func (s *fileStore) Put(handle string, rec Record) error {
	if err := checkHandle(handle); err != nil {
		return err
	}
	dir := s.paths.InstanceDir(handle)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create %s: %w", dir, err)
	}
	if err := writeJSONAtomic(s.paths.IdentityFile(handle), rec.Identity); err != nil {
		return fmt.Errorf("store: write identity for %s: %w", handle, err)
	}
	if err := writeJSONAtomic(s.paths.StateFile(handle), rec.State); err != nil {
		return fmt.Errorf("store: write state for %s: %w", handle, err)
	}
	return nil
}

func (s *fileStore) List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.paths.Root, "instances"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: list instances: %w", err)
	}
	handles := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if checkHandle(e.Name()) != nil {
			continue
		}
		handles = append(handles, e.Name())
	}
	sort.Strings(handles)
	return handles, nil
}

func (s *fileStore) Close() error { return nil }

// writeJSONAtomic replaces path with the JSON encoding of v. The temp file
// lives in the destination directory so the rename stays on one filesystem.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
