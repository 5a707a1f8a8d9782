package odata

import (
	"net/url"
	"strconv"
	"strings"
)

type filterEntry struct {
	field string // set for OR groups so SetFilterOr can replace them
	expr  Expr
}

// Query accumulates filter, select, paging and ordering intents for one request.
// Filters are ANDed in the order they were added.
type Query struct {
	filters []filterEntry
	selects []string
	top     int
	skip    int
	orderBy string
	count   bool
}

func NewQuery() *Query {
	return &Query{}
}

// AddFilter appends field <op> value. Numeric operators coerce value to an integer
// and emit it unquoted; eq quotes and escapes it.
func (q *Query) AddFilter(field string, value any, op Op) *Query {
	q.filters = append(q.filters, filterEntry{expr: Term(field, value, op)})
	return q
}

// SetFilterOr sets a single OR group over values for field, replacing any earlier
// group for the same field. One value yields a bare expression; none yields nothing.
func (q *Query) SetFilterOr(field string, values []string, op Op) *Query {
	terms := make([]Expr, 0, len(values))
	for _, v := range values {
		terms = append(terms, Term(field, v, op))
	}

	for i, f := range q.filters {
		if f.field == field {
			if len(terms) == 0 {
				q.filters = append(q.filters[:i], q.filters[i+1:]...)
			} else {
				q.filters[i].expr = Or{Terms: terms}
			}
			return q
		}
	}
	if len(terms) > 0 {
		q.filters = append(q.filters, filterEntry{field: field, expr: Or{Terms: terms}})
	}
	return q
}

// AddCustomFilter appends a raw fragment or any prebuilt expression.
func (q *Query) AddCustomFilter(expr Expr) *Query {
	if expr == nil || expr.String() == "" {
		return q
	}
	q.filters = append(q.filters, filterEntry{expr: expr})
	return q
}

// SetSelect restricts returned fields. nil or empty means all fields.
func (q *Query) SetSelect(fields []string) *Query {
	q.selects = append([]string(nil), fields...)
	return q
}

func (q *Query) SetTop(n int) *Query {
	if n < 1 {
		n = 1
	}
	q.top = n
	return q
}

func (q *Query) SetSkip(n int) *Query {
	if n < 0 {
		n = 0
	}
	q.skip = n
	return q
}

func (q *Query) SetOrderBy(field string, desc bool) *Query {
	if field == "" {
		q.orderBy = ""
		return q
	}
	q.orderBy = field
	if desc {
		q.orderBy += " desc"
	}
	return q
}

func (q *Query) SetCount(on bool) *Query {
	q.count = on
	return q
}

// Top returns the requested page size, 0 when unset.
func (q *Query) Top() int { return q.top }

func (q *Query) Skip() int { return q.skip }

// Filter renders the combined $filter expression.
func (q *Query) Filter() string {
	parts := make([]string, 0, len(q.filters))
	for _, f := range q.filters {
		if s := f.expr.String(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " and ")
}

// Clone returns an independent copy so a base filter set can be reused per page.
func (q *Query) Clone() *Query {
	c := *q
	c.filters = append([]filterEntry(nil), q.filters...)
	c.selects = append([]string(nil), q.selects...)
	return &c
}

// Values encodes the query as OData system query options.
func (q *Query) Values() url.Values {
	v := url.Values{}
	if f := q.Filter(); f != "" {
		v.Set("$filter", f)
	}
	if len(q.selects) > 0 {
		v.Set("$select", strings.Join(q.selects, ","))
	}
	if q.top > 0 {
		v.Set("$top", strconv.Itoa(q.top))
	}
	if q.skip > 0 {
		v.Set("$skip", strconv.Itoa(q.skip))
	}
	if q.orderBy != "" {
		v.Set("$orderby", q.orderBy)
	}
	if q.count {
		v.Set("$count", "true")
	}
	return v
}

// PageToSkip converts a 1-based page number into a $skip offset. Pages below 1 are treated as 1.
func PageToSkip(page, limit int) int {
	if page < 1 {
		page = 1
	}
	if limit < 0 {
		limit = 0
	}
	return (page - 1) * limit
}
