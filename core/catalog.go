package core

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is the declared type of a catalog attribute.
type Kind int

const (
	// KindInteger attributes compare numerically
	KindInteger Kind = iota + 1
	// KindText attributes compare lexicographically
	KindText
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// ParseKind converts a configuration string into a Kind.
// Accepts the names used by the configuration file as well as common aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "integer", "int":
		return KindInteger, nil
	case "text", "string", "str":
		return KindText, nil
	default:
		return 0, fmt.Errorf("unknown attribute kind %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if k != KindInteger && k != KindText {
		return nil, fmt.Errorf("invalid attribute kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Attribute is a single catalog entry.
type Attribute struct {
	Name string `json:"name" yaml:"name" validate:"required,max=64"`
	Kind Kind   `json:"kind" yaml:"kind" validate:"required"`
}

// Catalog maps attribute names to their declared kinds.
// A Catalog is immutable once constructed.
type Catalog struct {
	attrs map[string]Kind
	names []string
}

// NewCatalog builds a catalog from a list of attributes.
// Returns an error on an empty name, an unknown kind, or a duplicate name.
func NewCatalog(attrs ...Attribute) (*Catalog, error) {
	c := &Catalog{attrs: make(map[string]Kind, len(attrs))}
	for _, a := range attrs {
		if a.Name == "" {
			return nil, fmt.Errorf("attribute name cannot be empty")
		}
		if a.Kind != KindInteger && a.Kind != KindText {
			return nil, fmt.Errorf("attribute %q has invalid kind %d", a.Name, int(a.Kind))
		}
		if _, exists := c.attrs[a.Name]; exists {
			return nil, fmt.Errorf("duplicate attribute %q", a.Name)
		}
		c.attrs[a.Name] = a.Kind
		c.names = append(c.names, a.Name)
	}
	sort.Strings(c.names)
	return c, nil
}

// DefaultAttributes is the reference attribute set.
var DefaultAttributes = []Attribute{
	{Name: "age", Kind: KindInteger},
	{Name: "department", Kind: KindText},
	{Name: "salary", Kind: KindInteger},
	{Name: "experience", Kind: KindInteger},
}

// DefaultCatalog returns a catalog holding DefaultAttributes.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultAttributes...)
	if err != nil {
		panic(fmt.Sprintf("default catalog: %v", err))
	}
	return c
}

// Lookup returns the kind of the named attribute.
func (c *Catalog) Lookup(name string) (Kind, bool) {
	if c == nil {
		return 0, false
	}
	k, ok := c.attrs[name]
	return k, ok
}

// Contains reports whether the catalog declares the named attribute.
func (c *Catalog) Contains(name string) bool {
	_, ok := c.Lookup(name)
	return ok
}

// Names returns the attribute names in sorted order.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Attributes returns the catalog entries sorted by name.
func (c *Catalog) Attributes() []Attribute {
	if c == nil {
		return nil
	}
	out := make([]Attribute, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, Attribute{Name: name, Kind: c.attrs[name]})
	}
	return out
}

// Len returns the number of declared attributes.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.attrs)
}
