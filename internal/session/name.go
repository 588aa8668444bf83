package session

import (
	"fmt"
	"regexp"

	"github.com/matheus3301/rosterd/internal/config"
)

// DefaultName is used when neither the flag nor the config names a session.
const DefaultName = "main"

var namePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName rejects names that cannot be used as a directory under
// sessions/.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match %s", name, namePattern)
	}
	return nil
}

// Resolve picks the session to use: the --session flag, then the config's
// default_session, then DefaultName. The result is validated, and a config
// file that exists but cannot be read is an error.
func Resolve(flagOverride string) (string, error) {
	name := flagOverride
	if name == "" {
		cfg, err := config.LoadOrDefault(ConfigPath())
		if err != nil {
			return "", fmt.Errorf("resolve session: %w", err)
		}
		name = cfg.DefaultSession
	}
	if name == "" {
		name = DefaultName
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}
