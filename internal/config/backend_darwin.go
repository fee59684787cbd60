//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// defaultsDomain is the UserDefaults domain holding non-secret settings.
const defaultsDomain = "com.dreamsynth.app"

// errUnset is returned by userDefaults.run when the key has no value.
var errUnset = errors.New("not set")

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "dreamsynth-data"
	}
	return filepath.Join(home, "Library", "Application Support", "dreamsynth")
}

func secretStoreLocation() string {
	return fmt.Sprintf("the macOS Keychain (service %q, accounts %s)",
		Service, strings.Join(secretAccounts(), ", "))
}

// userDefaults keeps settings in a UserDefaults domain through the
// defaults(1) tool, so they can also be edited with `defaults write`.
type userDefaults struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return userDefaults{domain: defaultsDomain}
}

// run invokes defaults(1) with verb, the domain and args. A read of an
// absent key exits 1, which is reported as errUnset.
func (u userDefaults) run(verb string, args ...string) (string, error) {
	out, err := exec.Command("defaults", append([]string{verb, u.domain}, args...)...).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err == nil {
		return text, nil
	}
	var exitErr *exec.ExitError
	if verb == "read" && errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return "", errUnset
	}
	if text != "" {
		return "", fmt.Errorf("defaults %s %s: %w: %s", verb, u.domain, err, text)
	}
	return "", fmt.Errorf("defaults %s %s: %w", verb, u.domain, err)
}

func (u userDefaults) GetString(key string) (string, bool, error) {
	v, err := u.run("read", key)
	switch {
	case errors.Is(err, errUnset):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return v, true, nil
}

func (u userDefaults) GetInt(key string) (int, bool, error) {
	v, ok, err := u.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return n, true, nil
}

func (u userDefaults) SetString(key, val string) error {
	_, err := u.run("write", key, "-string", val)
	return err
}

func (u userDefaults) SetInt(key string, val int) error {
	_, err := u.run("write", key, "-int", strconv.Itoa(val))
	return err
}

func (u userDefaults) Delete(key string) error {
	_, err := u.run("delete", key)
	return err
}
