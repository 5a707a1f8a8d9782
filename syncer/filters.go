package syncer

import (
	"strings"

	"mls_ingest/config"
	"mls_ingest/odata"
)

// Scope selects which upstream statuses a sync pulls.
type Scope string

const (
	ScopeActive Scope = "active" // active listings in the allowed cities
	ScopeAll    Scope = "all"    // active plus closed, used to catch status transitions
	ScopeClosed Scope = "closed" // sold and leased only
)

func ParseScope(s string) Scope {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeAll:
		return ScopeAll
	case ScopeClosed:
		return ScopeClosed
	}
	return ScopeActive
}

// Filters turns the feed configuration into $filter clauses.
type Filters struct {
	feed config.FeedConfig
}

func NewFilters(feed config.FeedConfig) Filters {
	return Filters{feed: feed}
}

// Apply adds the scope's filters to q and returns it.
func (f Filters) Apply(q *odata.Query, scope Scope) *odata.Query {
	q.SetFilterOr("PropertySubType", f.feed.PropertySubTypes, odata.OpEq)

	switch scope {
	case ScopeAll:
		q.AddCustomFilter(f.statusGroup(true, true))
	case ScopeClosed:
		q.AddCustomFilter(f.statusGroup(false, true))
	default:
		q.SetFilterOr("StandardStatus", f.feed.ActiveStatuses, odata.OpEq)
		q.SetFilterOr("City", f.feed.Cities, odata.OpEq)
	}
	return q
}

// statusGroup ORs the active standard statuses and/or the closed signals
// (MLS status sold/leased or standard status Closed).
func (f Filters) statusGroup(active, closed bool) odata.Expr {
	var terms []odata.Expr
	if active {
		for _, s := range f.feed.ActiveStatuses {
			terms = append(terms, odata.Eq{Field: "StandardStatus", Value: s})
		}
	}
	if closed {
		for _, s := range f.feed.ClosedStatuses {
			terms = append(terms, odata.Eq{Field: "MlsStatus", Value: s})
		}
		terms = append(terms, odata.Eq{Field: "StandardStatus", Value: "Closed"})
	}
	return odata.Or{Terms: terms}
}
