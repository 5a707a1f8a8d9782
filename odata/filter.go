package odata

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Op is a comparison operator accepted by the upstream $filter grammar.
type Op string

const (
	OpEq Op = "eq"
	OpGt Op = "gt"
	OpGe Op = "ge"
	OpLt Op = "lt"
	OpLe Op = "le"
)

func (o Op) numeric() bool {
	switch o {
	case OpGt, OpGe, OpLt, OpLe:
		return true
	}
	return false
}

// ParseOp maps a string to an Op. Unknown operators fall back to eq.
func ParseOp(s string) Op {
	switch Op(strings.ToLower(strings.TrimSpace(s))) {
	case OpGt:
		return OpGt
	case OpGe:
		return OpGe
	case OpLt:
		return OpLt
	case OpLe:
		return OpLe
	}
	return OpEq
}

// Expr is a filter expression that serializes to the $filter wire format.
type Expr interface {
	String() string
}

// Eq is a quoted string equality: Field eq 'Value'.
type Eq struct {
	Field string
	Value string
}

func (e Eq) String() string {
	return e.Field + " eq " + quote(e.Value)
}

// Compare is an unquoted numeric comparison.
type Compare struct {
	Field string
	Op    Op
	Value int64
}

func (c Compare) String() string {
	return fmt.Sprintf("%s %s %d", c.Field, c.Op, c.Value)
}

// Or joins terms into one parenthesized group. A single term is emitted bare.
type Or struct {
	Terms []Expr
}

func (o Or) String() string {
	switch len(o.Terms) {
	case 0:
		return ""
	case 1:
		return o.Terms[0].String()
	}
	parts := make([]string, 0, len(o.Terms))
	for _, t := range o.Terms {
		parts = append(parts, t.String())
	}
	return "(" + strings.Join(parts, " or ") + ")"
}

// Raw is an already-valid filter fragment passed through untouched.
type Raw struct {
	Fragment string
}

func (r Raw) String() string {
	return r.Fragment
}

// Term builds the expression AddFilter would add for field, value and op.
func Term(field string, value any, op Op) Expr {
	if op.numeric() {
		return Compare{Field: field, Op: op, Value: toInt(value)}
	}
	return Eq{Field: field, Value: toString(value)}
}

// In builds "Field in ('a','b')" with every value quoted and escaped.
func In(field string, values []string) Expr {
	quoted := make([]string, 0, len(values))
	for _, v := range values {
		quoted = append(quoted, quote(v))
	}
	return Raw{Fragment: field + " in (" + strings.Join(quoted, ",") + ")"}
}

// Contains builds a contains(Field,'needle') full-text fragment.
func Contains(field, needle string) Expr {
	return Raw{Fragment: "contains(" + field + "," + quote(needle) + ")"}
}

// ModifiedSince compares a timestamp field against t, emitted as an unquoted UTC literal.
func ModifiedSince(field string, t time.Time) Expr {
	return Raw{Fragment: field + " ge " + t.UTC().Format(time.RFC3339)}
}

// quote is the only place string literals are escaped: ' becomes ''.
func quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// EscapeKey escapes a key for use inside a Resource('key') path segment.
func EscapeKey(key string) string {
	return strings.ReplaceAll(key, "'", "''")
}

func toInt(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float32:
		return int64(n)
	case float64:
		return int64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f)
		}
		return leadingInt(s)
	}
	return 0
}

// leadingInt reads an optional sign and the digits that follow it, so "12abc" is 12.
func leadingInt(s string) int64 {
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0
	}
	i, _ := strconv.ParseInt(s[:end], 10, 64)
	return i
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
