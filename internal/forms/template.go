// Package forms defines the capture form templates.
//
// A template describes the fields the console prompts for when capturing a
// record. The built-in session and screening templates cover the standard
// program forms; program offices can override them with TOML files in the
// data directory.
package forms

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Field types.
const (
	FieldText   = "text"
	FieldInt    = "int"
	FieldFloat  = "float"
	FieldSelect = "select"
	FieldMulti  = "multiline"
)

// Field is one prompt in a capture form.
type Field struct {
	Key      string   `toml:"key"`
	Label    string   `toml:"label"`
	Type     string   `toml:"type"`
	Options  []string `toml:"options,omitempty"`
	Required bool     `toml:"required"`
}

// Template is a capture form.
type Template struct {
	Name   string  `toml:"name"`
	Title  string  `toml:"title"`
	Fields []Field `toml:"fields"`
}

// Validate checks structural constraints on the template.
func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template name cannot be empty")
	}
	if len(t.Fields) == 0 {
		return fmt.Errorf("template %q has no fields", t.Name)
	}
	seen := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		if f.Key == "" {
			return fmt.Errorf("template %q has a field with no key", t.Name)
		}
		if seen[f.Key] {
			return fmt.Errorf("template %q repeats field %q", t.Name, f.Key)
		}
		seen[f.Key] = true

		switch f.Type {
		case FieldText, FieldInt, FieldFloat, FieldMulti:
		case FieldSelect:
			if len(f.Options) == 0 {
				return fmt.Errorf("select field %q has no options", f.Key)
			}
		default:
			return fmt.Errorf("field %q has unknown type %q", f.Key, f.Type)
		}
	}
	return nil
}

// LoadFile parses a template from a TOML file.
func LoadFile(path string) (*Template, error) {
	var t Template
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return nil, fmt.Errorf("cannot parse template %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Session returns the built-in awareness-session form.
func Session() *Template {
	return &Template{
		Name:  "session",
		Title: "Awareness Session",
		Fields: []Field{
			{Key: "village", Label: "Village", Type: FieldText, Required: true},
			{Key: "union_council", Label: "Union Council", Type: FieldText, Required: true},
			{Key: "facilitator", Label: "Facilitator", Type: FieldText, Required: true},
			{Key: "attendees", Label: "Attendees", Type: FieldInt, Required: true},
			{Key: "notes", Label: "Notes", Type: FieldMulti},
		},
	}
}

// Screening returns the built-in child-screening form.
func Screening() *Template {
	return &Template{
		Name:  "screening",
		Title: "Child Screening",
		Fields: []Field{
			{Key: "child_name", Label: "Child name", Type: FieldText, Required: true},
			{Key: "father_name", Label: "Father name", Type: FieldText, Required: true},
			{Key: "village", Label: "Village", Type: FieldText, Required: true},
			{Key: "age_months", Label: "Age (months)", Type: FieldInt, Required: true},
			{Key: "muac_mm", Label: "MUAC (mm)", Type: FieldFloat, Required: true},
			{Key: "vaccinated", Label: "Vaccination status", Type: FieldSelect,
				Options: []string{"complete", "partial", "none", "unknown"}},
			{Key: "notes", Label: "Notes", Type: FieldMulti},
		},
	}
}

// Builtin returns the named built-in template, or nil.
func Builtin(name string) *Template {
	switch name {
	case "session":
		return Session()
	case "screening":
		return Screening()
	default:
		return nil
	}
}

// Load returns the template for name: a TOML override from dir when one
// exists, otherwise the built-in.
func Load(dir, name string) (*Template, error) {
	path := filepath.Join(dir, "forms", name+".toml")
	if _, err := os.Stat(path); err == nil {
		return LoadFile(path)
	}
	if t := Builtin(name); t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("unknown form %q", name)
}
