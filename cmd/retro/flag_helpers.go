package main

import (
	"fmt"
	"os"
	"strings"
)

// reorderArgs moves flags before positional arguments so Go's flag
// parser sees them regardless of order, adapted from
// cmd/shurli/flag_helpers.go.
func reorderArgs(args []string, boolFlags map[string]bool) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "-") {
			flags = append(flags, arg)
			name := strings.TrimLeft(arg, "-")
			if strings.Contains(name, "=") {
				continue
			}
			if boolFlags[name] {
				continue
			}
			if i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, arg)
		}
	}
	return append(flags, positional...)
}

// promptPassword is the stub collaborator for interactive passphrase
// entry ( treats prompting as an external concern). It
// reads a single line from stdin without echo suppression, since
// terminal-raw-mode handling belongs to whatever embeds this CLI, not
// the library.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
		return "", fmt.Errorf("retro: read passphrase: %w", err)
	}
	return line, nil
}
