package security

import "regexp"

var envVarNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsValidEnvVarName reports whether s is a syntactically valid POSIX
// environment variable name. Passthrough entries failing this check are
// never propagated to a child process.
func IsValidEnvVarName(s string) bool {
	return envVarNamePattern.MatchString(s)
}

// SafeEnvVars is the fixed set of environment variables ShellTool always
// re-exports to a child process, regardless of shell_env_passthrough.
// Deliberately excludes anything that could carry a credential.
var SafeEnvVars = []string{
	"PATH", "HOME", "TERM", "LANG", "LC_ALL", "LC_CTYPE", "USER", "SHELL", "TMPDIR",
}
