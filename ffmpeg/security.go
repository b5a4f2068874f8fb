package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SplitCommand splits a command string into arguments without a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	return args, nil
}

// SanitizeGlobalArgs checks user-configured arguments that are added to
// every ffmpeg call. They may tune logging or threading but must not add
// inputs or overwrite flags the gateway controls.
func SanitizeGlobalArgs(args []string) error {
	for _, arg := range args {
		switch arg {
		case "-i", "-y", "-n", "-nostdin":
			return fmt.Errorf("argument %s is managed by vtools and cannot be configured", arg)
		}
		// exec.Command never runs a shell, but a metacharacter here is
		// almost certainly a copy-paste mistake.
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}

// ParseGlobalArgs splits and sanitises the FF_GLOBAL_ARGS setting.
func ParseGlobalArgs(command string) ([]string, error) {
	args, err := SplitCommand(command)
	if err != nil {
		return nil, err
	}
	if err := SanitizeGlobalArgs(args); err != nil {
		return nil, err
	}
	return args, nil
}
