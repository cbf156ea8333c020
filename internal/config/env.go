package config

import (
	"os"
	"regexp"
)

var reEnvRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${NAME} with the value of the environment variable NAME.
// Unset variables expand to "". Bare $NAME is left alone.
func expandEnv(b []byte) []byte {
	return reEnvRef.ReplaceAllFunc(b, func(m []byte) []byte {
		name := reEnvRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}
