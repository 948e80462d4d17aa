package cli

// This file contains argument processing utilities for the arguments
// passed through to go test.

import (
	"fmt"
	"strings"
)

// valueFlags take their value as the next argument when no = is used.
var valueFlags = map[string]bool{
	"-asmflags":     true,
	"-bench":        true,
	"-benchtime":    true,
	"-blockprofile": true,
	"-count":        true,
	"-coverpkg":     true,
	"-covermode":    true,
	"-coverprofile": true,
	"-cpu":          true,
	"-cpuprofile":   true,
	"-exec":         true,
	"-fuzz":         true,
	"-fuzztime":     true,
	"-gccgoflags":   true,
	"-gcflags":      true,
	"-ldflags":      true,
	"-memprofile":   true,
	"-mod":          true,
	"-modfile":      true,
	"-mutexprofile": true,
	"-outputdir":    true,
	"-overlay":      true,
	"-p":            true,
	"-parallel":     true,
	"-pkgdir":       true,
	"-run":          true,
	"-shuffle":      true,
	"-skip":         true,
	"-tags":         true,
	"-timeout":      true,
	"-toolexec":     true,
	"-trace":        true,
}

// unsupportedFlags stop go test from running the tests.
var unsupportedFlags = map[string]bool{
	"-c": true,
	"-o": true,
	"-n": true,
}

func removeFirstDashDash(in []string) []string {
	if len(in) > 0 && in[0] == "--" {
		return in[1:]
	}
	return in
}

// flagName normalizes --flag=value and -flag=value to -flag.
func flagName(arg string) string {
	name, _, _ := strings.Cut(arg, "=")
	if strings.HasPrefix(name, "--") {
		name = name[1:]
	}
	return name
}

// goTestArgs checks the arguments given to the test command and returns
// them without the flags -json already covers.
func goTestArgs(args []string) ([]string, error) {
	args = removeFirstDashDash(args)
	out := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		// everything after a second -- belongs to the test binary
		if arg == "--" {
			out = append(out, args[i:]...)
			break
		}
		if !strings.HasPrefix(arg, "-") {
			out = append(out, arg)
			continue
		}

		name := flagName(arg)
		if unsupportedFlags[name] {
			return nil, fmt.Errorf("%s is not supported, the tests must run for their results to be reported", name)
		}
		if name == "-json" {
			continue
		}

		out = append(out, arg)
		if valueFlags[name] && !strings.Contains(arg, "=") && i+1 < len(args) {
			i++
			out = append(out, args[i])
		}
	}

	return out, nil
}

// packagePatterns returns the package arguments, or "." when there are
// none, as go test does.
func packagePatterns(args []string) []string {
	var patterns []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		if strings.HasPrefix(arg, "-") {
			if valueFlags[flagName(arg)] && !strings.Contains(arg, "=") {
				i++
			}
			continue
		}
		patterns = append(patterns, arg)
	}

	if len(patterns) == 0 {
		return []string{"."}
	}
	return patterns
}
