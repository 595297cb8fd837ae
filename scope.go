package syncstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/burugo/syncstore/internal/utils"
)

// SortKey orders entities by one attribute.
type SortKey struct {
	Column     string `json:"column"`
	Descending bool   `json:"desc,omitempty"`
	// Localized compares strings with a case-insensitive Unicode collator.
	Localized bool `json:"localized,omitempty"`
}

// Scope is an immutable declarative query over the local store: a predicate
// (Where + Args), a sort order, and an optional grouping attribute.
//
// Where uses the same dialect as the local query matcher: conditions of the
// form "column OP ?" joined by AND, where OP is one of =, !=, <>, LIKE, >, <,
// >=, <=, or "column IN (?)" bound to a slice, plus "column IS NULL" and
// "column IS NOT NULL".
type Scope struct {
	Where      string
	Args       []interface{}
	Order      []SortKey
	SectionKey string
}

// All matches every entity, ordered ascending by the given columns.
func All(orderBy ...string) Scope {
	return Scope{}.OrderBy(orderBy...)
}

// Where matches entities whose column equals value.
func Where(column string, value interface{}, orderBy ...string) Scope {
	return Scope{Where: column + " = ?", Args: []interface{}{value}}.OrderBy(orderBy...)
}

// ScopeOf builds a Scope from a raw predicate.
func ScopeOf(where string, args ...interface{}) Scope {
	return Scope{Where: where, Args: args}
}

// OrderBy returns a copy of s with ascending sort keys appended.
func (s Scope) OrderBy(columns ...string) Scope {
	out := s.clone()
	for _, c := range columns {
		out.Order = append(out.Order, SortKey{Column: c})
	}
	return out
}

// OrderByDesc returns a copy of s with a descending sort key appended.
func (s Scope) OrderByDesc(column string) Scope {
	out := s.clone()
	out.Order = append(out.Order, SortKey{Column: column, Descending: true})
	return out
}

// OrderByLocalized returns a copy of s with a locale-aware string sort key appended.
func (s Scope) OrderByLocalized(column string, descending bool) Scope {
	out := s.clone()
	out.Order = append(out.Order, SortKey{Column: column, Descending: descending, Localized: true})
	return out
}

// GroupBy returns a copy of s grouped into sections by column. The first sort
// key must be the same column, otherwise the scope is invalid.
func (s Scope) GroupBy(column string) Scope {
	out := s.clone()
	out.SectionKey = column
	return out
}

// WithPredicate returns a copy of s with the predicate and order of other,
// keeping s's section key.
func (s Scope) WithPredicate(other Scope) Scope {
	out := other.clone()
	out.SectionKey = s.SectionKey
	return out
}

func (s Scope) clone() Scope {
	out := s
	out.Args = append([]interface{}(nil), s.Args...)
	out.Order = append([]SortKey(nil), s.Order...)
	return out
}

// scopeKeyParams is the normalized form hashed into scope keys.
type scopeKeyParams struct {
	Where      string        `json:"where"`
	Args       []interface{} `json:"args"`
	Order      []SortKey     `json:"order"`
	SectionKey string        `json:"section"`
}

func (s Scope) normalized() ([]byte, error) {
	args := make([]interface{}, len(s.Args))
	for i, arg := range s.Args {
		args[i] = utils.NormalizeValue(arg)
	}
	return json.Marshal(scopeKeyParams{
		Where:      strings.Join(strings.Fields(s.Where), " "),
		Args:       args,
		Order:      s.Order,
		SectionKey: s.SectionKey,
	})
}

// Equal reports whether two scopes have the same predicate, order, and section key.
func (s Scope) Equal(other Scope) bool {
	a, errA := s.normalized()
	b, errB := other.normalized()
	if errA != nil || errB != nil {
		return false
	}
	return string(a) == string(b)
}

// Key derives a stable cache key for the scope over a table.
// Format: scope:{table}:{hash}
func (s Scope) Key(table string) string {
	paramsJSON, err := s.normalized()
	if err != nil {
		// Args that cannot be marshaled still get a deterministic key.
		paramsJSON = []byte(fmt.Sprintf("%#v", s))
	}
	hasher := sha256.New()
	hasher.Write([]byte(table))
	hasher.Write(paramsJSON)
	return fmt.Sprintf("scope:%s:%s", table, hex.EncodeToString(hasher.Sum(nil))[:8])
}

func (s Scope) String() string {
	var b strings.Builder
	if s.Where == "" {
		b.WriteString("ALL")
	} else {
		fmt.Fprintf(&b, "%s %v", s.Where, s.Args)
	}
	if len(s.Order) > 0 {
		b.WriteString(" ORDER BY ")
		for i, k := range s.Order {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k.Column)
			if k.Descending {
				b.WriteString(" DESC")
			}
		}
	}
	if s.SectionKey != "" {
		b.WriteString(" SECTION BY " + s.SectionKey)
	}
	return b.String()
}
