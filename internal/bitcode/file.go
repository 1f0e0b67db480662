package bitcode

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chiabi/internal/ir"
	"chiabi/internal/irtext"
)

// ReadFile loads a module stored either as bitcode or as text IR. The
// module is named after the file's base name without extension.
func ReadFile(path string) (*ir.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(moduleName(path), data)
}

// Parse decodes data as bitcode when it carries the magic, otherwise as text.
func Parse(name string, data []byte) (*ir.Module, error) {
	if IsBitcode(data) {
		m, err := Decode(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		if m.Name == "" {
			m.Name = name
		}
		return m, nil
	}
	return irtext.ParseString(name, string(data))
}

// WriteFile stores m as bitcode, or as text when text is set.
func WriteFile(path string, m *ir.Module, text bool) error {
	var buf bytes.Buffer
	if text {
		buf.WriteString(m.String())
	} else if err := Encode(&buf, m); err != nil {
		return fmt.Errorf("encode %s: %w", m.Name, err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func moduleName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
