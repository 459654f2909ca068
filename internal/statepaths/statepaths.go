package statepaths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const defaultStateDirName = ".peergate"

// StateDir resolves the root state directory. An explicit file_state_dir
// wins; otherwise state lives under the user's home directory.
func StateDir() string {
	dir := strings.TrimSpace(viper.GetString("file_state_dir"))
	if dir != "" {
		return expandHome(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultStateDirName
	}
	return filepath.Join(home, defaultStateDirName)
}

// InstancesDir holds one config file per instance.
func InstancesDir() string {
	return filepath.Join(StateDir(), "instances")
}

// ConversationsDir holds one conversation file per (instance, peer) key.
func ConversationsDir() string {
	return filepath.Join(StateDir(), "conversations")
}

// SessionsDir holds per-instance session artifacts: the transient pairing
// code file and the network client's resume token.
func SessionsDir() string {
	return filepath.Join(StateDir(), "sessions")
}

// AnalyticsDir holds the local analytics journal.
func AnalyticsDir() string {
	return filepath.Join(StateDir(), "analytics")
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
