package am

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/teranos/repost/errors"
)

// WriteDefault writes a starter am.toml holding every default value.
// Existing files are never overwritten.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Mark(errors.Newf("config file %s already exists", path), errors.ErrConflict)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(nestedDefaults()); err != nil {
		return errors.Wrapf(err, "encode %s", path)
	}
	return nil
}

// nestedDefaults turns dotted default keys into TOML tables.
// Durations are written in their string form ("15s") so viper decodes them back.
func nestedDefaults() map[string]interface{} {
	root := make(map[string]interface{})
	for key, value := range defaultValues() {
		if d, ok := value.(time.Duration); ok {
			value = d.String()
		}
		parts := strings.Split(key, ".")
		node := root
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]interface{})
			if !ok {
				child = make(map[string]interface{})
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	return root
}
