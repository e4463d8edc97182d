// Package kvs is the scoped field storage backing a single block.
package kvs

import (
	"errors"
	"fmt"

	"github.com/yungbote/coursestore-backend/internal/blocktypes"
	"github.com/yungbote/coursestore-backend/internal/keys"
)

var (
	ErrInvalidScope  = errors.New("invalid scope")
	ErrFieldNotSet   = errors.New("field not set")
	ErrReadOnlyField = errors.New("read-only field")
	ErrInvalidValue  = errors.New("invalid value")
)

// KVS holds one block's content, settings, children and cached parent. The inherited
// map is a snapshot supplied at construction and never written; recomputing
// inheritance produces a new KVS via WithInherited. A nil children list means the
// children field was never set; an empty one was set to nothing.
type KVS struct {
	content   map[string]any
	settings  map[string]any
	children  []keys.UsageKey
	parent    *keys.UsageKey
	inherited map[string]any
}

func New(content, settings map[string]any, children []keys.UsageKey, parent *keys.UsageKey, inherited map[string]any) *KVS {
	if content == nil {
		content = map[string]any{}
	}
	if settings == nil {
		settings = map[string]any{}
	}
	if inherited == nil {
		inherited = map[string]any{}
	}
	return &KVS{
		content:   content,
		settings:  settings,
		children:  cloneKeys(children),
		parent:    parent,
		inherited: inherited,
	}
}

func (k *KVS) Get(scope blocktypes.Scope, name string) (any, error) {
	switch scope {
	case blocktypes.ScopeParent:
		if k.parent == nil {
			return nil, nil
		}
		return *k.parent, nil
	case blocktypes.ScopeChildren:
		if k.children != nil {
			return cloneKeys(k.children), nil
		}
	case blocktypes.ScopeContent:
		if v, ok := k.content[name]; ok {
			return v, nil
		}
	case blocktypes.ScopeSettings:
		if v, ok := k.settings[name]; ok {
			return v, nil
		}
		if v, ok := k.inherited[name]; ok {
			return v, nil
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrFieldNotSet, scope, name)
}

func (k *KVS) Set(scope blocktypes.Scope, name string, value any) error {
	switch scope {
	case blocktypes.ScopeParent:
		return fmt.Errorf("%w: parent", ErrReadOnlyField)
	case blocktypes.ScopeChildren:
		children, ok := value.([]keys.UsageKey)
		if !ok {
			return fmt.Errorf("%w: children must be []keys.UsageKey, got %T", ErrInvalidValue, value)
		}
		k.children = cloneKeys(children)
		if k.children == nil {
			k.children = []keys.UsageKey{}
		}
	case blocktypes.ScopeContent:
		k.content[name] = value
	case blocktypes.ScopeSettings:
		k.settings[name] = value
	default:
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	return nil
}

func (k *KVS) Delete(scope blocktypes.Scope, name string) error {
	switch scope {
	case blocktypes.ScopeParent:
		return fmt.Errorf("%w: parent", ErrReadOnlyField)
	case blocktypes.ScopeChildren:
		k.children = nil
	case blocktypes.ScopeContent:
		delete(k.content, name)
	case blocktypes.ScopeSettings:
		delete(k.settings, name)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	return nil
}

// Has reports local presence. Parent always reports true; inherited settings do not
// count.
func (k *KVS) Has(scope blocktypes.Scope, name string) (bool, error) {
	switch scope {
	case blocktypes.ScopeParent:
		return true, nil
	case blocktypes.ScopeChildren:
		return k.children != nil, nil
	case blocktypes.ScopeContent:
		_, ok := k.content[name]
		return ok, nil
	case blocktypes.ScopeSettings:
		_, ok := k.settings[name]
		return ok, nil
	}
	return false, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
}

// Inherited reports the inherited value for name, if any.
func (k *KVS) Inherited(name string) (any, bool) {
	v, ok := k.inherited[name]
	return v, ok
}

// WithInherited returns a copy of the store bound to a new inherited snapshot.
func (k *KVS) WithInherited(inherited map[string]any) *KVS {
	return New(copyMap(k.content), copyMap(k.settings), k.children, k.parent, inherited)
}

// WithParent returns a copy with the cached parent replaced.
func (k *KVS) WithParent(parent *keys.UsageKey) *KVS {
	return New(copyMap(k.content), copyMap(k.settings), k.children, parent, k.inherited)
}

func (k *KVS) Content() map[string]any  { return copyMap(k.content) }
func (k *KVS) Settings() map[string]any { return copyMap(k.settings) }
func (k *KVS) Children() []keys.UsageKey {
	if k.children == nil {
		return []keys.UsageKey{}
	}
	return cloneKeys(k.children)
}
func (k *KVS) Parent() *keys.UsageKey { return k.parent }

// cloneKeys copies s, keeping nil and empty apart.
func cloneKeys(s []keys.UsageKey) []keys.UsageKey {
	if s == nil {
		return nil
	}
	return append(make([]keys.UsageKey, 0, len(s)), s...)
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, v := range m {
		out[key] = blocktypes.Clone(v)
	}
	return out
}
