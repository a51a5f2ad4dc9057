// Package schema holds the per-document field contract used to prompt the
// extraction oracle and to check what it returns.
package schema

import (
	_ "embed"
	"fmt"

	"taxdesk/pkg/domain"
	"taxdesk/pkg/errors"

	"gopkg.in/yaml.v3"
)

//go:embed categories.yaml
var defaultTable []byte

type FieldKind string

const (
	KindString FieldKind = "string"
	KindDate   FieldKind = "date"
	KindEnum   FieldKind = "enum"
	KindList   FieldKind = "list"
)

type FieldSpec struct {
	Name        string    `yaml:"name"`
	Kind        FieldKind `yaml:"kind"`
	Values      []string  `yaml:"values,omitempty"`
	Description string    `yaml:"description"`
}

// DocumentSpec is the contract for one document type.
type DocumentSpec struct {
	Type     domain.DocumentType `yaml:"type"`
	Label    string              `yaml:"label"`
	Critical string              `yaml:"critical"`
	Fields   []FieldSpec         `yaml:"fields"`

	validator *compiled
}

// Field looks a field up by name.
func (s *DocumentSpec) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

type Table struct {
	specs map[domain.DocumentType]*DocumentSpec
}

// Default parses the embedded table.
func Default() (*Table, error) {
	return Parse(defaultTable)
}

// MustDefault panics if the embedded table is broken.
func MustDefault() *Table {
	t, err := Default()
	if err != nil {
		panic(err)
	}
	return t
}

func Parse(data []byte) (*Table, error) {
	var doc struct {
		Documents []*DocumentSpec `yaml:"documents"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse category table: %w", err)
	}

	t := &Table{specs: make(map[domain.DocumentType]*DocumentSpec, len(doc.Documents))}
	for _, s := range doc.Documents {
		if err := s.check(); err != nil {
			return nil, err
		}
		v, err := compile(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Type, err)
		}
		s.validator = v
		t.specs[s.Type] = s
	}
	return t, nil
}

func (s *DocumentSpec) check() error {
	if s.Type == "" || len(s.Fields) == 0 {
		return fmt.Errorf("category table: document %q has no fields", s.Type)
	}
	seen := map[string]bool{}
	for _, f := range s.Fields {
		switch f.Kind {
		case KindString, KindDate, KindList:
		case KindEnum:
			if len(f.Values) == 0 {
				return fmt.Errorf("%s.%s: enum without values", s.Type, f.Name)
			}
		default:
			return fmt.Errorf("%s.%s: unknown kind %q", s.Type, f.Name, f.Kind)
		}
		if seen[f.Name] {
			return fmt.Errorf("%s.%s: duplicate field", s.Type, f.Name)
		}
		seen[f.Name] = true
	}
	if s.Critical != "" && !seen[s.Critical] {
		return fmt.Errorf("%s: critical field %q is not declared", s.Type, s.Critical)
	}
	return nil
}

// ForType returns the spec of a document type.
func (t *Table) ForType(dt domain.DocumentType) (*DocumentSpec, error) {
	s, ok := t.specs[dt]
	if !ok {
		return nil, fmt.Errorf("%w: no field contract for %s", errors.ErrUnsupportedCategory, dt)
	}
	return s, nil
}

// ForCategory resolves an upload category to its spec.
func (t *Table) ForCategory(c domain.DocumentCategory) (*DocumentSpec, error) {
	dt, err := c.Type()
	if err != nil {
		return nil, fmt.Errorf("%w: %q", errors.ErrUnsupportedCategory, string(c))
	}
	return t.ForType(dt)
}
