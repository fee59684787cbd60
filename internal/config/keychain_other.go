//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

func secretsFilePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "dreamsynth", "secrets.json")
}

// secretsFile stands in for a system keychain: a JSON document of
// service -> account -> value, readable only by its owner.
type secretsFile struct {
	path string
}

type secretSet map[string]map[string]string

// load returns the stored secrets. A missing file is an empty set.
func (f secretsFile) load() (secretSet, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return secretSet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	set := secretSet{}
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", f.path, err)
	}
	return set, nil
}

// save replaces the file through a rename so a failed write never leaves
// a truncated store behind.
func (f secretsFile) save(set secretSet) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing secrets file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing secrets file: %w", err)
	}
	return nil
}

func (f secretsFile) get(service, account string) (string, error) {
	set, err := f.load()
	if err != nil {
		return "", err
	}
	v, ok := set[service][account]
	if !ok {
		return "", fmt.Errorf("no secret %s/%s in %s", service, account, f.path)
	}
	return v, nil
}

// set stores one secret and keeps the others. A file that cannot be
// parsed is left untouched rather than overwritten.
func (f secretsFile) set(service, account, value string) error {
	set, err := f.load()
	if err != nil {
		return err
	}
	if set[service] == nil {
		set[service] = map[string]string{}
	}
	set[service][account] = value
	return f.save(set)
}

func keychainGet(service, account string) ([]byte, error) {
	v, err := secretsFile{path: secretsFilePath()}.get(service, account)
	return []byte(v), err
}

func keychainSet(service, account, value string) error {
	return secretsFile{path: secretsFilePath()}.set(service, account, value)
}
