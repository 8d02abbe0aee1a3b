package schema

import (
	_ "embed"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Datatypes understood by the registry.
const (
	Text     = "Text"
	LongText = "LongText"
	URL      = "URL"
	Number   = "Number"
	Integer  = "Integer"
	Boolean  = "Boolean"
	Date     = "Date"
	Link     = "Link"
)

//go:embed types.yml
var defaultTypes []byte

// Property is a classified structured-data value. Value is the canonical
// string form stored in the index.
type Property struct {
	Datatype string `json:"datatype"`
	Value    string `json:"value"`
}

// IsLink reports whether the value refers to another page.
func (p Property) IsLink() bool {
	return p.Datatype == Link
}

// UnknownTypeError is returned for an item type the registry does not know.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown item type %q", e.Type)
}

// InvalidPropertyError is returned when a value does not fit its datatype.
type InvalidPropertyError struct {
	Name     string
	Datatype string
	Value    string
}

func (e *InvalidPropertyError) Error() string {
	return fmt.Sprintf("invalid %s value %q for property %q", e.Datatype, e.Value, e.Name)
}

type propertyDef struct {
	Datatype string `yaml:"datatype"`
	Inverse  string `yaml:"inverse"`
}

// UnmarshalYAML accepts either a bare datatype name or a mapping.
func (p *propertyDef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		p.Datatype = node.Value
		return nil
	}
	type plain propertyDef
	return node.Decode((*plain)(p))
}

type typeDef struct {
	Parent     string                 `yaml:"parent"`
	Properties map[string]propertyDef `yaml:"properties"`
}

// Registry classifies structured-data properties against a set of item
// types. It is immutable after construction and safe for concurrent use.
type Registry struct {
	types map[string]typeDef
	paths map[string]string
}

// NewRegistry loads the built-in item types.
func NewRegistry() (*Registry, error) {
	return Parse(defaultTypes)
}

// Parse builds a registry from a YAML type document.
func Parse(doc []byte) (*Registry, error) {
	var raw struct {
		Types map[string]typeDef `yaml:"types"`
	}
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse schema types: %w", err)
	}

	r := &Registry{types: raw.Types, paths: make(map[string]string, len(raw.Types))}
	for name, def := range raw.Types {
		for prop, pd := range def.Properties {
			if !validDatatype(pd.Datatype) {
				return nil, fmt.Errorf("type %s: property %s has unknown datatype %q", name, prop, pd.Datatype)
			}
		}
		path, err := r.buildPath(name)
		if err != nil {
			return nil, err
		}
		r.paths[name] = path
	}
	return r, nil
}

func (r *Registry) buildPath(name string) (string, error) {
	var chain []string
	seen := make(map[string]bool)
	for cur := name; cur != ""; cur = r.types[cur].Parent {
		if seen[cur] {
			return "", fmt.Errorf("type %s: inheritance cycle through %s", name, cur)
		}
		if _, ok := r.types[cur]; !ok {
			return "", fmt.Errorf("type %s: unknown parent %s", name, cur)
		}
		seen[cur] = true
		chain = append([]string{cur}, chain...)
	}
	return strings.Join(chain, "/") + "/", nil
}

// TypePath returns the canonical path of itemType, e.g. "Thing/CreativeWork/Book/".
func (r *Registry) TypePath(itemType string) (string, error) {
	path, ok := r.paths[itemType]
	if !ok {
		return "", &UnknownTypeError{Type: itemType}
	}
	return path, nil
}

// Types returns the known item type names, sorted.
func (r *Registry) Types() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(itemType, name string) (propertyDef, bool) {
	for cur := itemType; cur != ""; cur = r.types[cur].Parent {
		if pd, ok := r.types[cur].Properties[name]; ok {
			return pd, true
		}
	}
	return propertyDef{}, false
}

// Classify converts raw into a typed property of itemType. Properties the
// type does not declare are treated as Text.
func (r *Registry) Classify(itemType, name, raw string) (Property, error) {
	if _, ok := r.types[itemType]; !ok {
		return Property{}, &UnknownTypeError{Type: itemType}
	}
	datatype := Text
	if pd, ok := r.lookup(itemType, name); ok {
		datatype = pd.Datatype
	}

	value, ok := canonicalize(datatype, raw)
	if !ok {
		return Property{}, &InvalidPropertyError{Name: name, Datatype: datatype, Value: raw}
	}
	return Property{Datatype: datatype, Value: value}, nil
}

// HumaneProperty returns a display label for a property. With inverse set it
// returns the label of the reverse relation, used for incoming links.
func (r *Registry) HumaneProperty(itemType, name string, inverse bool) string {
	if pd, ok := r.lookup(itemType, name); ok && inverse && pd.Inverse != "" {
		return pd.Inverse
	}
	label := humanize(name)
	if inverse {
		return label + " (reverse)"
	}
	return label
}

func humanize(name string) string {
	var b strings.Builder
	for i, c := range name {
		if i > 0 && unicode.IsUpper(c) {
			b.WriteByte(' ')
			c = unicode.ToLower(c)
		} else if i == 0 {
			c = unicode.ToUpper(c)
		}
		b.WriteRune(c)
	}
	return b.String()
}

var dateLayouts = []string{"2006-01-02", "2006-01", "2006"}

func canonicalize(datatype, raw string) (string, bool) {
	v := strings.TrimSpace(raw)
	switch datatype {
	case Text:
		return v, true
	case LongText:
		return strings.TrimSpace(raw), true
	case Link:
		return v, v != ""
	case URL:
		u, err := url.ParseRequestURI(v)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return "", false
		}
		return u.String(), true
	case Number:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return "", false
		}
		return strconv.FormatFloat(f, 'f', -1, 64), true
	case Integer:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return "", false
		}
		return strconv.FormatInt(n, 10), true
	case Boolean:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return "", false
		}
		return strconv.FormatBool(b), true
	case Date:
		for _, layout := range dateLayouts {
			if _, err := time.Parse(layout, v); err == nil {
				return v, true
			}
		}
		return "", false
	}
	return "", false
}

func validDatatype(d string) bool {
	switch d {
	case Text, LongText, URL, Number, Integer, Boolean, Date, Link:
		return true
	}
	return false
}
