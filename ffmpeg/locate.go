package ffmpeg

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// wellKnownDirs are searched when a binary is not on PATH, which is common
// for desktop launches that inherit a minimal environment.
var wellKnownDirs = map[string][]string{
	"darwin": {"/opt/homebrew/bin", "/opt/homebrew/sbin", "/usr/local/bin", "/usr/bin", "/bin", "/usr/sbin", "/sbin"},
	"linux":  {"/usr/local/bin", "/usr/bin", "/bin", "/usr/sbin", "/sbin"},
}

// locate resolves name through PATH, then through dirs. Names containing a
// path separator are only checked as given.
func locate(name string, dirs []string) (string, error) {
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	if strings.ContainsRune(name, filepath.Separator) {
		return "", fmt.Errorf("%s not found or not executable", name)
	}
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if fi, err := os.Stat(candidate); err == nil && fi.Mode().IsRegular() && fi.Mode().Perm()&0o111 != 0 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s not found in PATH or %s", name, strings.Join(dirs, ", "))
}

func locateBinary(name string) (string, error) {
	return locate(name, wellKnownDirs[runtime.GOOS])
}
