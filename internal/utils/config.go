package utils

import (
	"os"
	"path/filepath"
)

// ResolvePath makes a relative path from the config file absolute against
// the directory the config file lives in. With no config file the working
// directory is used.
func ResolvePath(configFile, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	base := "."
	if configFile != "" {
		base = filepath.Dir(configFile)
	} else if wd, err := os.Getwd(); err == nil {
		base = wd
	}
	return filepath.Join(base, p)
}
