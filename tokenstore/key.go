package tokenstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/prsuperstar/superstar/internal/util"
)

// LoadOrCreateKey reads the 32-byte wrapping key at path, creating it with
// fresh random bytes (mode 0600) if it does not exist.
//
// A key file of the wrong length is replaced; any token sealed under the old
// key becomes unreadable and is discarded on the next Load.
func LoadOrCreateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil && len(data) == util.AESKeySize {
		return data, nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading token key: %w", err)
	}

	key, err := util.NewKey()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("writing token key: %w", err)
	}
	return key, nil
}
