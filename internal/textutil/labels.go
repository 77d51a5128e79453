package textutil

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var placeholderPattern = regexp.MustCompile(`^speaker[_ ]?\d+$`)

// IsPlaceholderLabel reports whether a speaker label is a diarization
// placeholder (SPEAKER_00 and friends) rather than a real identity.
// Placeholder labels never enter the voice library.
func IsPlaceholderLabel(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return true
	}
	switch name {
	case "unknown", "unknown speaker", "unidentified":
		return true
	}
	return placeholderPattern.MatchString(name)
}

// DisplayTitle derives a human-readable episode title from an audio file
// path: extension stripped, separators collapsed to spaces, title-cased.
func DisplayTitle(sourcePath string) string {
	if sourcePath == "" {
		return "Untitled Episode"
	}
	base := filepath.Base(sourcePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	cleaned := strings.Builder{}
	prevSpace := false
	for _, r := range base {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			cleaned.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '.':
			if !prevSpace {
				cleaned.WriteRune(' ')
				prevSpace = true
			}
		}
	}
	title := strings.TrimSpace(cleaned.String())
	if title == "" {
		return "Untitled Episode"
	}
	return cases.Title(language.Und).String(title)
}
