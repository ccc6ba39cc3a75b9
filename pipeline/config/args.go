package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseArgs converts CLI-style override arguments into a flat option
// mapping.
//
// Supported forms:
//
//	--a 1        {"a": 1}
//	--b.c 2      {"b.c": 2}
//	--d=3        {"d": 3}
//	--flag       {"flag": true}
//
// Values parse to the narrowest matching scalar: int, then float64,
// then bool, falling back to string. Arguments not starting with "--"
// are rejected so typos surface instead of silently vanishing.
func ParseArgs(args []string) (map[string]any, error) {
	options := make(map[string]any)

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument %q (overrides must start with --)", arg)
		}

		name := strings.TrimPrefix(arg, "--")
		if name == "" {
			return nil, fmt.Errorf("empty option name in %q", arg)
		}

		// --name=value form.
		if eq := strings.IndexByte(name, '='); eq >= 0 {
			options[name[:eq]] = parseScalar(name[eq+1:])
			continue
		}

		// --name value form; a following "--" token means --name is a flag.
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
			options[name] = parseScalar(args[i+1])
			i++
			continue
		}

		// Bare --flag becomes true.
		options[name] = true
	}

	return options, nil
}

// parseScalar converts a raw argument value to the narrowest matching
// scalar type.
func parseScalar(raw string) any {
	if v, err := strconv.Atoi(raw); err == nil {
		return v
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseBool(raw); err == nil {
		return v
	}
	return raw
}
