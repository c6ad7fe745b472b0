package config

import (
	"os"
	"strings"
)

// EnvironmentExpander replaces environment placeholders in raw configuration text.
type EnvironmentExpander interface {
	Expand(input string) string
}

// OsEnvironmentExpander expands ${VAR}, $VAR and ${VAR:-default} from the process environment.
type OsEnvironmentExpander struct {
	lookup func(string) (string, bool)
}

// NewOsEnvironmentExpander returns an expander backed by os.LookupEnv.
func NewOsEnvironmentExpander() *OsEnvironmentExpander {
	return &OsEnvironmentExpander{lookup: os.LookupEnv}
}

// Expand implements EnvironmentExpander. Unset variables without a default expand to "".
func (e *OsEnvironmentExpander) Expand(input string) string {
	return os.Expand(input, func(name string) string {
		def := ""
		if i := strings.Index(name, ":-"); i >= 0 {
			name, def = name[:i], name[i+2:]
		}
		if v, ok := e.lookup(name); ok && v != "" {
			return v
		}
		return def
	})
}
