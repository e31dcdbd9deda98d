package internal

import (
	"os"
	"path/filepath"
)

// ConfigDir is where canaryhits looks for config.json and .env when no path
// is given. The directory is not created.
func ConfigDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		// no $HOME or $XDG_CONFIG_HOME, e.g. in minimal containers
		base = os.TempDir()
	}
	return filepath.Join(base, "canaryhits")
}
