package files

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// MasterKeyEnv names the environment variable holding the hex master key.
const MasterKeyEnv = "MASTER_KEY_HEX"

// ReadMasterKey returns the 32-byte master key from MASTER_KEY_HEX, falling
// back to the hex contents of keyFile.
func ReadMasterKey(keyFile string) ([]byte, error) {
	h := os.Getenv(MasterKeyEnv)
	if h == "" {
		data, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("%s not set and %s not readable: %w", MasterKeyEnv, keyFile, err)
		}
		h = string(data)
	}
	b, err := hex.DecodeString(strings.TrimSpace(h))
	if err != nil {
		return nil, fmt.Errorf("master key hex decode error: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("master key length must be 32 bytes (hex 64 chars), got %d", len(b))
	}
	return b, nil
}

// WriteMasterKey writes a hex-encoded key to path, refusing to overwrite.
func WriteMasterKey(path string, key []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(hex.EncodeToString(key) + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
