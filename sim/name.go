package sim

import (
	"fmt"
	"strconv"
	"strings"
)

// A NameToken is one level of a hierarchical component name, such as L1[0]
// in Core[0].L1[0].
type NameToken struct {
	Elem  string
	Index []int
}

func (t NameToken) String() string {
	var b strings.Builder

	b.WriteString(t.Elem)

	for _, i := range t.Index {
		b.WriteString("[" + strconv.Itoa(i) + "]")
	}

	return b.String()
}

// A NameError reports a component name that does not follow the naming
// convention.
type NameError struct {
	Name   string
	Reason string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("name %q is not valid: %s", e.Name, e.Reason)
}

// ParseName splits a dot-separated name into its tokens. The element of
// each token must be a capitalized identifier without underscores or dashes,
// followed by zero or more integer indices in square brackets.
func ParseName(name string) ([]NameToken, error) {
	parts := strings.Split(name, ".")
	tokens := make([]NameToken, 0, len(parts))

	for _, part := range parts {
		t, reason := parseToken(part)
		if reason != "" {
			return nil, &NameError{Name: name, Reason: reason}
		}

		tokens = append(tokens, t)
	}

	return tokens, nil
}

func parseToken(s string) (NameToken, string) {
	open := strings.IndexByte(s, '[')
	if open < 0 {
		open = len(s)
	}

	t := NameToken{Elem: s[:open]}
	if reason := elemReason(t.Elem); reason != "" {
		return t, reason
	}

	rest := s[open:]
	for rest != "" {
		end := strings.IndexByte(rest, ']')
		if rest[0] != '[' || end < 0 {
			return t, "brackets must match"
		}

		i, err := strconv.Atoi(rest[1:end])
		if err != nil || i < 0 {
			return t, "index must be a non-negative integer"
		}

		t.Index = append(t.Index, i)
		rest = rest[end+1:]
	}

	return t, ""
}

func elemReason(elem string) string {
	switch {
	case elem == "":
		return "element must not be empty"
	case strings.ContainsAny(elem, "_-'\"]"):
		return "element must only contain letters and digits"
	case elem[0] < 'A' || elem[0] > 'Z':
		return "element must start with a capital letter"
	}

	return ""
}

// NameMustBeValid panics with a *NameError if the name does not follow the
// naming convention.
func NameMustBeValid(name string) {
	if _, err := ParseName(name); err != nil {
		panic(err)
	}
}

// BuildName joins a parent name and an element name.
func BuildName(parentName, elementName string) string {
	if parentName == "" {
		return elementName
	}

	return parentName + "." + elementName
}

// BuildNameWithIndex builds the name of an element of a series, for example
// Core[2].
func BuildNameWithIndex(parentName, elementName string, index ...int) string {
	return BuildName(parentName,
		NameToken{Elem: elementName, Index: index}.String())
}
