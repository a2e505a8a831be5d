package utils

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Size limits
const (
	MaxCommandLength = 16 * 1024 // one line typed into a shell
	MaxIDLength      = 128
	MaxPathLength    = 4096
	MaxTerminalCols  = 1000
	MaxTerminalRows  = 500
)

// SafeIDPattern allows alphanumeric, hyphens, underscores
var SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil // Optional field, empty is OK
	}

	if !utf8.ValidString(value) {
		return fmt.Errorf("%s is not valid UTF-8", fieldName)
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateID validates an ID field
func ValidateID(id, fieldName string, required bool) error {
	if err := ValidateString(id, fieldName, 1, MaxIDLength, required); err != nil {
		return err
	}

	if id != "" && !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (only alphanumeric, hyphens, and underscores allowed)", fieldName)
	}

	return nil
}

// ValidateCommand checks a command before it is written to a terminal.
// Control characters other than tab would be interpreted by the line
// discipline (^C, ^D, ^Z) instead of reaching the shell as text.
func ValidateCommand(command string) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("command is required")
	}
	if err := ValidateString(command, "command", 1, MaxCommandLength, true); err != nil {
		return err
	}
	for _, r := range command {
		if r != '\t' && r != '\n' && unicode.IsControl(r) {
			return fmt.Errorf("command contains control character %U", r)
		}
	}
	return nil
}

// ValidateWorkingDir accepts an empty or absolute path
func ValidateWorkingDir(dir string) error {
	if err := ValidateString(dir, "working_directory", 1, MaxPathLength, false); err != nil {
		return err
	}
	if dir != "" && !path.IsAbs(dir) {
		return fmt.Errorf("working_directory must be absolute")
	}
	return nil
}

// ValidateTerminalSize checks window dimensions
func ValidateTerminalSize(cols, rows int) error {
	if cols < 1 || cols > MaxTerminalCols {
		return fmt.Errorf("cols must be between 1 and %d", MaxTerminalCols)
	}
	if rows < 1 || rows > MaxTerminalRows {
		return fmt.Errorf("rows must be between 1 and %d", MaxTerminalRows)
	}
	return nil
}
