package config

import (
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"
)

// ParseBool accepts exactly "yes", "true", "no" and "false" (case-sensitive).
func ParseBool(s string) (bool, error) {
	switch s {
	case "yes", "true":
		return true, nil
	case "no", "false":
		return false, nil
	}
	return false, &FormatError{Text: s, Expected: "a boolean (true/false)"}
}

// ParseInt accepts decimal, 0x-prefixed hex and 0-prefixed octal integers.
func ParseInt(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, &FormatError{Text: s, Expected: "an integer"}
	}
	return v, nil
}

// ParseString removes surrounding double quotes and resolves escapes when
// the text is quoted; unquoted text is returned as is.
func ParseString(s string) (string, error) {
	if !strings.HasPrefix(s, `"`) {
		return s, nil
	}
	v, err := strconv.Unquote(s)
	if err != nil {
		return "", &FormatError{Text: s, Expected: "a properly quoted string"}
	}
	return v, nil
}

func unquote(s string) string {
	if v, err := ParseString(s); err == nil {
		return v
	}
	return s
}

// ParseBytes parses a byte size such as "64KiB", "2 MB" or "4096".
func ParseBytes(s string) (uint64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, &FormatError{Text: s, Expected: "a byte size, e.g. 64KiB"}
	}
	return v, nil
}

// ParseFilename resolves a possibly quoted file name against baseDir.
// Empty text yields an empty name.
func ParseFilename(s, baseDir string) string {
	s = unquote(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	return tidyFilename(s, baseDir)
}

// ParseFilenames splits a whitespace separated list of file names, honoring
// double quotes. Names prefixed with "@" or "@@" (list files) keep their
// prefix; the rest of the name is resolved against baseDir.
func ParseFilenames(s, baseDir string) []string {
	var result []string
	for _, tok := range splitQuoted(s) {
		switch {
		case strings.HasPrefix(tok, "@@"):
			result = append(result, "@@"+tidyFilename(tok[2:], baseDir))
		case strings.HasPrefix(tok, "@"):
			result = append(result, "@"+tidyFilename(tok[1:], baseDir))
		default:
			result = append(result, tidyFilename(tok, baseDir))
		}
	}
	return result
}

// AdjustPath resolves each entry of a ';' or ':' separated directory list
// against baseDir and joins the result with ';'.
func AdjustPath(s, baseDir string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ':' })
	dirs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		dirs = append(dirs, tidyFilename(p, baseDir))
	}
	return strings.Join(dirs, ";")
}

func tidyFilename(name, baseDir string) string {
	if baseDir != "" && !filepath.IsAbs(name) {
		name = filepath.Join(baseDir, name)
	}
	return filepath.Clean(name)
}

func splitQuoted(s string) []string {
	var (
		tokens  []string
		cur     strings.Builder
		inQuote bool
		hasTok  bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			hasTok = true
		case unicode.IsSpace(r) && !inQuote:
			if hasTok {
				tokens = append(tokens, cur.String())
				cur.Reset()
				hasTok = false
			}
		default:
			cur.WriteRune(r)
			hasTok = true
		}
	}
	if hasTok {
		tokens = append(tokens, cur.String())
	}
	return tokens
}
