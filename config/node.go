package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/controlbus/errors"
)

// SectionPrefix marks a key whose value is a named child section.
const SectionPrefix = "+"

// maxNodeDepth bounds section nesting to prevent resource exhaustion on hostile input
const maxNodeDepth = 64

// Node is one section of a structured-data tree. Leaf keys and child sections
// keep their declaration order.
type Node struct {
	name     string
	keys     []string
	fields   map[string]*yaml.Node
	children []*Node
}

// Parse builds a Node tree from YAML (or JSON) data.
func Parse(data []byte) (*Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "config", "Parse", "yaml decode")
	}
	if doc.Kind == 0 {
		return &Node{fields: map[string]*yaml.Node{}}, nil
	}
	return newNode("", &doc, 0)
}

// UnmarshalYAML lets a Node be embedded in typed configuration structs.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := newNode("", value, 0)
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}

func newNode(name string, value *yaml.Node, depth int) (*Node, error) {
	if value.Kind == yaml.DocumentNode && len(value.Content) > 0 {
		value = value.Content[0]
	}
	if depth > maxNodeDepth {
		return nil, fmt.Errorf("%w: section %q nested deeper than %d", errors.ErrInvalidConfig, name, maxNodeDepth)
	}
	if value.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: section %q is not a mapping (line %d)", errors.ErrInvalidConfig, name, value.Line)
	}

	n := &Node{name: name, fields: make(map[string]*yaml.Node)}
	seen := make(map[string]bool, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		key := value.Content[i].Value
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate key %q in section %q", errors.ErrInvalidConfig, key, name)
		}
		seen[key] = true

		if childName, ok := strings.CutPrefix(key, SectionPrefix); ok {
			if childName == "" {
				return nil, fmt.Errorf("%w: empty section name in %q", errors.ErrInvalidConfig, name)
			}
			child, err := newNode(childName, value.Content[i+1], depth+1)
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, child)
			continue
		}
		n.keys = append(n.keys, key)
		n.fields[key] = value.Content[i+1]
	}
	return n, nil
}

// Name returns the section name without its prefix; the root has an empty name.
func (n *Node) Name() string {
	return n.name
}

// Keys returns the leaf keys in declaration order.
func (n *Node) Keys() []string {
	keys := make([]string, len(n.keys))
	copy(keys, n.keys)
	return keys
}

// Has reports whether a leaf key is present.
func (n *Node) Has(key string) bool {
	_, ok := n.fields[key]
	return ok
}

// Read decodes the value stored under key into out.
func (n *Node) Read(key string, out any) error {
	v, ok := n.fields[key]
	if !ok {
		return fmt.Errorf("%w: %q in section %q", errors.ErrMissingConfig, key, n.name)
	}
	if err := v.Decode(out); err != nil {
		return fmt.Errorf("%w: %q in section %q: %v", errors.ErrInvalidConfig, key, n.name, err)
	}
	return nil
}

// String returns the scalar under key, or def when the key is absent or not a scalar.
func (n *Node) String(key, def string) string {
	v, ok := n.fields[key]
	if !ok || v.Kind != yaml.ScalarNode {
		return def
	}
	return v.Value
}

// Class returns the Class key of the section.
func (n *Node) Class() string {
	return n.String("Class", "")
}

// Duration reads a timeout. Integers are milliseconds, strings may use Go
// duration syntax ("250ms", "2s"). An absent key yields def.
func (n *Node) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := n.fields[key]
	if !ok {
		return def, nil
	}
	if v.Kind != yaml.ScalarNode {
		return 0, fmt.Errorf("%w: %q in section %q is not a scalar", errors.ErrInvalidConfig, key, n.name)
	}
	if ms, err := strconv.ParseUint(v.Value, 10, 32); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v.Value)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %q in section %q is not a valid duration: %q", errors.ErrInvalidConfig, key, n.name, v.Value)
	}
	return d, nil
}

// Children returns the child sections in declaration order.
func (n *Node) Children() []*Node {
	children := make([]*Node, len(n.children))
	copy(children, n.children)
	return children
}

// Child returns the child section with the given name.
func (n *Node) Child(name string) (*Node, bool) {
	for _, c := range n.children {
		if c.name == name {
			return c, true
		}
	}
	return nil, false
}
