package content

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go-wiki-engine/internal/schema"

	"gopkg.in/yaml.v3"
)

// Classifier types structured-data values. It is satisfied by *schema.Registry.
type Classifier interface {
	Classify(itemType, name, raw string) (schema.Property, error)
	TypePath(itemType string) (string, error)
}

var (
	reYAMLIndented = regexp.MustCompile(`(?m)^(?: {4}|\t)#!yaml/schema[ \t]*\r?\n((?:(?: {4}|\t).*(?:\r?\n|$))+)`)
	reYAMLFenced   = regexp.MustCompile("(?ms)^```[^\\n]*\\n#!yaml/schema[ \\t]*\\n(.*?)^```[ \\t]*$")
	reInlineData   = regexp.MustCompile(`(\{\{|\[\[)([^\]}]+?)::([^\]}]+)(\}\}|\]\])`)
	reSection      = regexp.MustCompile(`(?m)^([^\s:\[\]{}]+)::-{3,}[ \t]*$`)
	reFencedCode   = regexp.MustCompile("(?ms)^```.*?^```[ \\t]*$")
	reIndent       = regexp.MustCompile(`(?m)^(?: {4}|\t)`)
)

// Data maps a property name to its classified values. Every page has at
// least "name" and "schema".
type Data map[string][]schema.Property

// Pairs returns every (name, value) pair, sorted.
func (d Data) Pairs() [][2]string {
	var pairs [][2]string
	for name, values := range d {
		for _, v := range values {
			pairs = append(pairs, [2]string{name, v.Value})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})
	return pairs
}

// Names returns the property names, sorted.
func (d Data) Names() []string {
	names := make([]string, 0, len(d))
	for n := range d {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// rawData accumulates untyped values in first-seen order without duplicates.
type rawData struct {
	order  []string
	values map[string][]string
}

func newRawData() *rawData {
	return &rawData{values: make(map[string][]string)}
}

func (r *rawData) add(name, value string) {
	existing, ok := r.values[name]
	if !ok {
		r.order = append(r.order, name)
	}
	for _, v := range existing {
		if v == value {
			return
		}
	}
	r.values[name] = append(existing, value)
}

// ParseData assembles the structured data of a page from the implicit
// name and schema, the YAML block and inline assertions, then classifies
// every value. All classification failures are reported together.
func ParseData(c Classifier, title, body, itemType string) (Data, error) {
	typePath, err := c.TypePath(itemType)
	if err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}

	raw := newRawData()
	raw.add("name", title)
	raw.add("schema", typePath)

	verr := &ValidationError{}
	if err := parseYAMLBlock(body, raw); err != nil {
		verr.add("%s", err.Error())
	}
	parseInlineData(RemoveMetadata(body), raw)
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	data := make(Data, len(raw.order))
	invalid := &InvalidSchemaDataError{Fields: map[string]string{}}
	for _, name := range raw.order {
		for _, v := range raw.values[name] {
			p, err := c.Classify(itemType, name, v)
			if err != nil {
				invalid.Fields[name] = err.Error()
				continue
			}
			data[name] = appendUnique(data[name], p)
		}
	}
	if len(invalid.Fields) > 0 {
		return nil, &ValidationError{
			Problems: []string{invalid.Error()},
			Schema:   invalid,
		}
	}
	return data, nil
}

func appendUnique(values []schema.Property, p schema.Property) []schema.Property {
	for _, v := range values {
		if v == p {
			return values
		}
	}
	return append(values, p)
}

func parseYAMLBlock(body string, raw *rawData) error {
	var block string
	if m := reYAMLFenced.FindStringSubmatch(body); m != nil {
		block = m[1]
	} else if m := reYAMLIndented.FindStringSubmatch(body); m != nil {
		block = reIndent.ReplaceAllString(m[1], "")
	} else {
		return nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(block), &doc); err != nil {
		return fmt.Errorf("malformed YAML data block: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("YAML data block must be a mapping")
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i].Value, root.Content[i+1]
		switch value.Kind {
		case yaml.ScalarNode:
			raw.add(key, value.Value)
		case yaml.SequenceNode:
			for _, item := range value.Content {
				if item.Kind != yaml.ScalarNode {
					return fmt.Errorf("YAML data field %q must hold scalars", key)
				}
				raw.add(key, item.Value)
			}
		default:
			return fmt.Errorf("YAML data field %q must be a scalar or a list", key)
		}
	}
	return nil
}

// parseInlineData collects {{name::value}} and [[name::value]] assertions and
// name::--- sections. Fenced code blocks are skipped.
func parseInlineData(body string, raw *rawData) {
	body = reFencedCode.ReplaceAllString(body, "")

	sections := reSection.FindAllStringSubmatchIndex(body, -1)
	head := body
	if len(sections) > 0 {
		head = body[:sections[0][0]]
	}
	collectAssertions(head, raw)
	for i, loc := range sections {
		end := len(body)
		if i+1 < len(sections) {
			end = sections[i+1][0]
		}
		name := body[loc[2]:loc[3]]
		text := body[loc[1]:end]
		collectAssertions(text, raw)
		if v := strings.TrimSpace(text); v != "" {
			raw.add(name, v)
		}
	}
}

func collectAssertions(text string, raw *rawData) {
	for _, m := range reInlineData.FindAllStringSubmatch(text, -1) {
		name, value := strings.TrimSpace(m[2]), strings.TrimSpace(m[3])
		if name == "" || value == "" || strings.HasPrefix(name, "=") {
			continue
		}
		raw.add(name, value)
	}
}

// Parsed is the result of parsing a page body.
type Parsed struct {
	Metadata Metadata
	Data     Data
}

// ItemType returns the page's schema type name.
func (p *Parsed) ItemType() string {
	return p.Metadata[KeySchema]
}

// Parse validates body and extracts its metadata and structured data. A
// single ValidationError reports every problem found.
func Parse(c Classifier, title, body string) (*Parsed, error) {
	md, err := ParseMetadata(body)
	verr := &ValidationError{}
	if err != nil {
		verr.Problems = append(verr.Problems, err.(*ValidationError).Problems...)
	}

	data, err := ParseData(c, title, body, md[KeySchema])
	if err != nil {
		if dataErr, ok := err.(*ValidationError); ok {
			verr.Problems = append(verr.Problems, dataErr.Problems...)
			verr.Schema = dataErr.Schema
		} else {
			return nil, err
		}
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return &Parsed{Metadata: md, Data: data}, nil
}
