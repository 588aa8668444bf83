package session

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory, mainly for tests.
const HomeEnv = "ROSTERD_HOME"

// BaseDir returns ~/.rosterd, or $ROSTERD_HOME when set.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".rosterd")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// SocketPath returns the UDS socket path for a session.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// LockPath returns the lock file path for a session.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// GraphDBPath returns the contact graph database path.
func GraphDBPath(name string) string {
	return filepath.Join(Dir(name), "graph.db")
}

// AvatarDir returns where avatar images are saved.
func AvatarDir(name string) string {
	return filepath.Join(Dir(name), "avatars")
}

// RosterDir returns the directory watched for YAML roster files.
func RosterDir(name string) string {
	return filepath.Join(Dir(name), "roster")
}

// WhatsAppDBPath returns the whatsmeow device store path.
func WhatsAppDBPath(name string) string {
	return filepath.Join(Dir(name), "whatsapp.db")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "rosterd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
		AvatarDir(name),
		RosterDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
