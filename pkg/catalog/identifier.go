package catalog

import (
	"fmt"
	"strings"
)

// Identifier is a qualified namespace or table name, one element per level.
// Catalog backends report names as tuples, dotted strings or the string form of
// a tuple ("('sales', 'orders')"); ParseIdentifier folds all of them into this one shape.
type Identifier []string

// ParseIdentifier accepts []string, []any, Identifier, a dotted string or a
// parenthesized tuple string.
func ParseIdentifier(v any) (Identifier, error) {
	switch t := v.(type) {
	case Identifier:
		return clean(t)
	case []string:
		return clean(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, fmt.Sprint(p))
		}
		return clean(parts)
	case string:
		return parseString(t)
	case fmt.Stringer:
		return parseString(t.String())
	case nil:
		return nil, fmt.Errorf("empty identifier")
	default:
		return nil, fmt.Errorf("unsupported identifier type %T", v)
	}
}

// MustParseIdentifier is ParseIdentifier for literals in code and tests.
func MustParseIdentifier(v any) Identifier {
	id, err := ParseIdentifier(v)
	if err != nil {
		panic(err)
	}
	return id
}

func parseString(s string) (Identifier, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		inner := strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
		parts := strings.Split(inner, ",")
		for i, p := range parts {
			parts[i] = strings.Trim(strings.TrimSpace(p), `'"`)
		}
		return clean(parts)
	}
	return clean(strings.Split(s, "."))
}

func clean(parts []string) (Identifier, error) {
	out := make(Identifier, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty identifier")
	}
	return out, nil
}

// String returns the dot-joined form used in every tool result.
func (id Identifier) String() string {
	return strings.Join(id, ".")
}

// Name returns the last level.
func (id Identifier) Name() string {
	if len(id) == 0 {
		return ""
	}
	return id[len(id)-1]
}

// Namespace returns every level but the last.
func (id Identifier) Namespace() Identifier {
	if len(id) <= 1 {
		return nil
	}
	return id[:len(id)-1]
}

// HasPrefix reports whether id starts with every level of prefix.
func (id Identifier) HasPrefix(prefix Identifier) bool {
	if len(prefix) > len(id) {
		return false
	}
	for i := range prefix {
		if id[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Join appends levels to a copy of id.
func (id Identifier) Join(levels ...string) Identifier {
	out := make(Identifier, 0, len(id)+len(levels))
	out = append(out, id...)
	return append(out, levels...)
}

// Equal reports level-wise equality.
func (id Identifier) Equal(other Identifier) bool {
	return len(id) == len(other) && id.HasPrefix(other)
}
