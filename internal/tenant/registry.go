// Package tenant resolves a tenant id to the schema description used in
// prompts and the connection target its queries run against.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rahul/querypilot/internal/executor"
)

// ErrNotFound is returned when no tenant is registered under an id.
var ErrNotFound = errors.New("tenant not found")

type Column struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description,omitempty"`
}

type Table struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Columns     []Column `yaml:"columns"`
}

type Relationship struct {
	From string `yaml:"from"` // table.column
	To   string `yaml:"to"`   // table.column
	Kind string `yaml:"kind,omitempty"`
}

type Schema struct {
	Dialect       string         `yaml:"dialect,omitempty"`
	Tables        []Table        `yaml:"tables"`
	Relationships []Relationship `yaml:"relationships,omitempty"`
}

type Tenant struct {
	ID     string          `yaml:"id"`
	Name   string          `yaml:"name,omitempty"`
	Schema Schema          `yaml:"schema"`
	Target executor.Target `yaml:"target"`
}

// Repository looks tenants up by id. Implementations are read-only.
type Repository interface {
	Lookup(ctx context.Context, id string) (*Tenant, error)
}

// FileRegistry is a Repository loaded once from a YAML document and never
// mutated afterwards, so concurrent lookups need no locking.
type FileRegistry struct {
	tenants map[string]Tenant
}

type registryFile struct {
	Tenants []Tenant `yaml:"tenants"`
}

// LoadFile reads the registry at path. Connection DSNs may reference
// environment variables (${PG_PASSWORD}) so credentials stay out of the file.
func LoadFile(path string) (*FileRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenant registry: %w", err)
	}
	return Parse(data)
}

// Parse builds a FileRegistry from YAML bytes.
func Parse(data []byte) (*FileRegistry, error) {
	var doc registryFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode tenant registry: %w", err)
	}

	reg := &FileRegistry{tenants: make(map[string]Tenant, len(doc.Tenants))}
	for i, t := range doc.Tenants {
		if strings.TrimSpace(t.ID) == "" {
			return nil, fmt.Errorf("tenant #%d: id is required", i+1)
		}
		if _, dup := reg.tenants[t.ID]; dup {
			return nil, fmt.Errorf("tenant %q: duplicate id", t.ID)
		}
		if t.Target.Driver == "" || t.Target.DSN == "" {
			return nil, fmt.Errorf("tenant %q: target driver and dsn are required", t.ID)
		}
		t.Target.DSN = os.ExpandEnv(t.Target.DSN)
		if t.Schema.Dialect == "" {
			t.Schema.Dialect = t.Target.Driver
		}
		reg.tenants[t.ID] = t
	}
	return reg, nil
}

// NewStaticRegistry wraps already-built tenants; used by tests and the CLI.
func NewStaticRegistry(tenants ...Tenant) *FileRegistry {
	reg := &FileRegistry{tenants: make(map[string]Tenant, len(tenants))}
	for _, t := range tenants {
		reg.tenants[t.ID] = t
	}
	return reg
}

func (r *FileRegistry) Lookup(_ context.Context, id string) (*Tenant, error) {
	t, ok := r.tenants[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &t, nil
}

// IDs returns the registered tenant ids in sorted order.
func (r *FileRegistry) IDs() []string {
	ids := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Describe renders the schema as plain text for a prompt.
func (s Schema) Describe() string {
	var b strings.Builder
	if s.Dialect != "" {
		fmt.Fprintf(&b, "SQL dialect: %s\n\n", s.Dialect)
	}
	for _, t := range s.Tables {
		fmt.Fprintf(&b, "TABLE %s", t.Name)
		if t.Description != "" {
			fmt.Fprintf(&b, " -- %s", t.Description)
		}
		b.WriteString("\n")
		for _, c := range t.Columns {
			fmt.Fprintf(&b, "  - %s %s", c.Name, c.Type)
			if c.Description != "" {
				fmt.Fprintf(&b, " -- %s", c.Description)
			}
			b.WriteString("\n")
		}
	}
	if len(s.Relationships) > 0 {
		b.WriteString("\nRELATIONSHIPS\n")
		for _, r := range s.Relationships {
			kind := r.Kind
			if kind == "" {
				kind = "references"
			}
			fmt.Fprintf(&b, "  - %s %s %s\n", r.From, kind, r.To)
		}
	}
	return b.String()
}
