// Package blocktypes is the declarative schema of block types: which fields each type
// has, their scopes, defaults, and which are inheritable or customizable.
package blocktypes

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

type Scope string

const (
	ScopeContent  Scope = "content"
	ScopeSettings Scope = "settings"
	ScopeChildren Scope = "children"
	ScopeParent   Scope = "parent"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeContent, ScopeSettings, ScopeChildren, ScopeParent:
		return true
	}
	return false
}

type Field struct {
	Name        string    `yaml:"name"`
	Scope       Scope     `yaml:"scope"`
	Kind        FieldKind `yaml:"type"`
	Default     any       `yaml:"default"`
	Inheritable bool      `yaml:"inheritable"`
	// NoSync marks upstream bookkeeping fields that are never copied from a library.
	NoSync bool `yaml:"no_sync"`
}

type Type struct {
	Name        string  `yaml:"-"`
	HasChildren bool    `yaml:"has_children"`
	DirectOnly  bool    `yaml:"direct_only"`
	Detached    bool    `yaml:"detached"`
	Fields      []Field `yaml:"fields"`

	index map[string]Field
}

// Field looks a field up by name.
func (t *Type) Field(name string) (Field, bool) {
	f, ok := t.index[name]
	return f, ok
}

// FieldNames returns the sorted names of fields in the given scopes.
func (t *Type) FieldNames(scopes ...Scope) []string {
	out := make([]string, 0, len(t.index))
	for name, f := range t.index {
		for _, s := range scopes {
			if f.Scope == s {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// ScopeOf reports where a field is stored. Undeclared fields land in settings.
func (t *Type) ScopeOf(name string) Scope {
	if f, ok := t.index[name]; ok {
		return f.Scope
	}
	return ScopeSettings
}

// Default returns the declared default (nil when there is none).
func (t *Type) Default(name string) any {
	if f, ok := t.index[name]; ok {
		return cloneValue(f.Default)
	}
	return nil
}

type Registry struct {
	types        map[string]*Type
	common       []Field
	inheritable  []string
	inheritSet   map[string]bool
	customizable map[string]string
	containers   map[string]string
}

type schemaFile struct {
	Customizable map[string]string `yaml:"customizable"`
	Containers   map[string]string `yaml:"containers"`
	CommonFields []Field           `yaml:"common_fields"`
	Types        map[string]*Type  `yaml:"types"`
}

//go:embed types.yaml
var builtinSchema []byte

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the registry built from the embedded schema.
func Default() *Registry {
	defaultOnce.Do(func() {
		reg, err := Load(builtinSchema)
		if err != nil {
			panic(fmt.Sprintf("blocktypes: embedded schema: %v", err))
		}
		defaultReg = reg
	})
	return defaultReg
}

// Load parses a YAML schema document.
func Load(raw []byte) (*Registry, error) {
	var sf schemaFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	r := &Registry{
		types:        make(map[string]*Type, len(sf.Types)),
		inheritSet:   map[string]bool{},
		customizable: sf.Customizable,
		containers:   sf.Containers,
	}
	if r.customizable == nil {
		r.customizable = map[string]string{}
	}
	if r.containers == nil {
		r.containers = map[string]string{}
	}
	for i := range sf.CommonFields {
		f, err := prepareField(sf.CommonFields[i])
		if err != nil {
			return nil, err
		}
		r.common = append(r.common, f)
		if f.Inheritable {
			if f.Scope != ScopeSettings {
				return nil, fmt.Errorf("inheritable field %q must be settings scoped", f.Name)
			}
			r.inheritable = append(r.inheritable, f.Name)
			r.inheritSet[f.Name] = true
		}
	}
	sort.Strings(r.inheritable)
	for name, t := range sf.Types {
		if t == nil {
			t = &Type{}
		}
		t.Name = name
		if err := r.index(t); err != nil {
			return nil, fmt.Errorf("type %q: %w", name, err)
		}
		r.types[name] = t
	}
	return r, nil
}

func (r *Registry) index(t *Type) error {
	t.index = make(map[string]Field, len(r.common)+len(t.Fields))
	for _, f := range r.common {
		t.index[f.Name] = f
	}
	for i := range t.Fields {
		f, err := prepareField(t.Fields[i])
		if err != nil {
			return err
		}
		t.Fields[i] = f
		t.index[f.Name] = f
	}
	if t.HasChildren {
		t.index["children"] = Field{Name: "children", Scope: ScopeChildren, Kind: KindReferenceList}
	}
	return nil
}

func prepareField(f Field) (Field, error) {
	if f.Name == "" {
		return f, fmt.Errorf("field without name")
	}
	if f.Scope == "" {
		f.Scope = ScopeSettings
	}
	if f.Scope != ScopeContent && f.Scope != ScopeSettings {
		return f, fmt.Errorf("field %q: unsupported scope %q", f.Name, f.Scope)
	}
	if f.Kind == "" {
		f.Kind = KindString
	}
	if !f.Kind.valid() {
		return f, fmt.Errorf("field %q: unknown type %q", f.Name, f.Kind)
	}
	if f.Default != nil {
		v, err := f.Kind.Normalize(f.Default)
		if err != nil {
			return f, fmt.Errorf("field %q default: %w", f.Name, err)
		}
		f.Default = v
	}
	return f, nil
}

// Get returns the schema for blockType. Unknown types resolve to a leaf type carrying
// only the common fields.
func (r *Registry) Get(blockType string) *Type {
	if t, ok := r.types[blockType]; ok {
		return t
	}
	t := &Type{Name: blockType}
	_ = r.index(t)
	return t
}

func (r *Registry) Known(blockType string) bool {
	_, ok := r.types[blockType]
	return ok
}

func (r *Registry) IsDirectOnly(blockType string) bool { return r.Get(blockType).DirectOnly }

func (r *Registry) IsDetached(blockType string) bool { return r.Get(blockType).Detached }

func (r *Registry) HasChildren(blockType string) bool { return r.Get(blockType).HasChildren }

// ContainerTypes lists the known types that declare children.
func (r *Registry) ContainerTypes() []string {
	out := []string{}
	for name, t := range r.types {
		if t.HasChildren {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) InheritableFields() []string {
	return append([]string(nil), r.inheritable...)
}

func (r *Registry) IsInheritable(name string) bool { return r.inheritSet[name] }

// Customizable maps each customizable field to its upstream mirror field ("" when the
// field is stored downstream only).
func (r *Registry) Customizable() map[string]string {
	out := make(map[string]string, len(r.customizable))
	for k, v := range r.customizable {
		out[k] = v
	}
	return out
}

// MirrorFields lists the non-empty upstream mirror fields.
func (r *Registry) MirrorFields() []string {
	out := []string{}
	for _, v := range r.customizable {
		if v != "" {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// DownstreamTypeFor maps a library container type to the course block type.
func (r *Registry) DownstreamTypeFor(containerType string) (string, bool) {
	t, ok := r.containers[containerType]
	return t, ok
}
