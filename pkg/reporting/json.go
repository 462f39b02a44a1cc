package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultJSONFormatter implements JSON output functionality
type DefaultJSONFormatter struct{}

// NewDefaultJSONFormatter creates a new JSON formatter
func NewDefaultJSONFormatter() *DefaultJSONFormatter {
	return &DefaultJSONFormatter{}
}

// Format renders v as indented JSON
func (f *DefaultJSONFormatter) Format(v interface{}) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json: %w", err)
	}
	return data, nil
}

// Print writes v as indented JSON followed by a newline
func (f *DefaultJSONFormatter) Print(w io.Writer, v interface{}) error {
	data, err := f.Format(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// WriteJSON writes v as indented JSON to path, creating the directory as needed
func WriteJSON(v interface{}, path string) error {
	data, err := NewDefaultJSONFormatter().Format(v)
	if err != nil {
		return err
	}
	if err := EnsureDirectoryExists(filepath.Dir(path)); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// PrintJSON is a convenience function using the default formatter
func PrintJSON(w io.Writer, v interface{}) error {
	return NewDefaultJSONFormatter().Print(w, v)
}
