package content

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Metadata keys with special meaning.
const (
	KeyContentType = "content-type"
	KeySchema      = "schema"
	KeyRedirect    = "redirect"
	KeyPub         = "pub"
	KeyRead        = "read"
	KeyWrite       = "write"

	DefaultContentType = "text/x-markdown"
	DefaultSchema      = "Article"
)

var reMetadata = regexp.MustCompile(`^\.(\S+)(\s+(.+))?$`)

// Metadata holds the directive lines at the top of a page. A directive
// without a value maps to the empty string.
type Metadata map[string]string

// Has reports whether key was given.
func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// ParseMetadata reads the leading `.key value` lines of body, applies the
// defaults and validates the combination of directives.
func ParseMetadata(body string) (Metadata, error) {
	md := Metadata{
		KeyContentType: DefaultContentType,
		KeySchema:      DefaultSchema,
	}
	for _, line := range strings.Split(body, "\n") {
		m := reMetadata.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			break
		}
		md[strings.TrimSpace(m[1])] = strings.TrimSpace(m[3])
	}

	verr := &ValidationError{}
	validateMetadata(md, body, verr)
	return md, verr.orNil()
}

func validateMetadata(md Metadata, body string, verr *ValidationError) {
	if md.Has(KeyPub) && md.Has(KeyRedirect) {
		verr.add(`"pub" and "redirect" metadata cannot be used together`)
	}
	if md.Has(KeyRedirect) && strings.TrimSpace(RemoveMetadata(body)) != "" {
		verr.add(`a page with "redirect" metadata cannot have body content`)
	}
	if md.Has(KeyRead) && md[KeyContentType] != DefaultContentType {
		verr.add(`read access of a %s page cannot be restricted`, md[KeyContentType])
	}
}

// RemoveMetadata returns body without its leading metadata lines.
func RemoveMetadata(body string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if !reMetadata.MatchString(strings.TrimSpace(line)) {
			return strings.Join(lines[i:], "\n")
		}
	}
	return ""
}

// RemoveDataBlock returns body without its YAML data block.
func RemoveDataBlock(body string) string {
	body = reYAMLFenced.ReplaceAllString(body, "\n")
	return reYAMLIndented.ReplaceAllString(body, "\n")
}

// MakeDescription summarises body in at most maxLength characters: the
// first line, cut after the last sentence that ends within the limit, or
// truncated with an ellipsis.
func MakeDescription(body string, maxLength int) string {
	body = strings.TrimSpace(RemoveMetadata(RemoveDataBlock(body)))

	if i := strings.IndexByte(body, '\n'); i != -1 {
		body = strings.TrimSpace(body[:i])
	}

	runes := []rune(body)
	index := 0
	for index < maxLength {
		next := indexRunes(runes, index, ". ")
		if next == -1 || next+1 > maxLength {
			break
		}
		index = next + 1
	}
	if index > 3 {
		return strings.TrimSpace(string(runes[:index]))
	}

	if utf8.RuneCountInString(body) <= maxLength {
		return body
	}
	return strings.TrimSpace(string(runes[:maxLength-3])) + "..."
}

func indexRunes(runes []rune, from int, sep string) int {
	if from >= len(runes) {
		return -1
	}
	i := strings.Index(string(runes[from:]), sep)
	if i == -1 {
		return -1
	}
	return from + utf8.RuneCountInString(string(runes[from:])[:i])
}

// PathToken is one ancestor of a hierarchical title.
type PathToken struct {
	Path string // full title of the ancestor
	Name string // its last segment
}

// Paths returns every prefix of a slash-separated title, the title itself
// last.
func Paths(title string) []PathToken {
	parts := strings.Split(title, "/")
	result := make([]PathToken, 0, len(parts))
	for i, part := range parts {
		result = append(result, PathToken{Path: strings.Join(parts[:i+1], "/"), Name: part})
	}
	return result
}

// TitleToPath converts a title into its URL path form.
func TitleToPath(title string) string {
	u := url.URL{Path: strings.ReplaceAll(title, " ", "_")}
	return u.EscapedPath()
}

// PathToTitle reverses TitleToPath.
func PathToTitle(path string) string {
	if unescaped, err := url.PathUnescape(path); err == nil {
		path = unescaped
	}
	return strings.ReplaceAll(path, "_", " ")
}
