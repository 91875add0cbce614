// Package query derives the listing predicates for traces from the viewer,
// the optional target user and the optional tag filter.
package query

import (
	"math"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"trace-service/internal/models"
)

const (
	// PageSize is the fixed number of traces per listing page.
	PageSize = 20
	// MaxPage is the last page whose offset fits in an int.
	MaxPage = math.MaxInt/PageSize + 1
	// NewestFirst orders traces by creation time, descending.
	NewestFirst = "traces.created_at DESC"
)

// Case names the authorization context a listing was built for.
type Case string

const (
	CasePublic        Case = "public"
	CasePublicOrOwned Case = "public-or-owned"
	CaseSelf          Case = "self"
	CaseOtherUser     Case = "other-user"
)

// Condition is one parameterized conjunct of a listing query.
type Condition struct {
	SQL  string
	Args []any
}

// Predicate is the visibility variant of a listing.
type Predicate interface {
	Case() Case
	Condition() Condition
}

// Public lists publicly listable traces to an anonymous viewer.
type Public struct{}

func (Public) Case() Case { return CasePublic }

func (Public) Condition() Condition {
	return Condition{SQL: "traces.visibility IN ?", Args: []any{publicLevels()}}
}

// PublicOrOwned lists public traces plus everything the viewer owns.
type PublicOrOwned struct {
	Viewer uuid.UUID
}

func (PublicOrOwned) Case() Case { return CasePublicOrOwned }

func (p PublicOrOwned) Condition() Condition {
	return Condition{
		SQL:  "(traces.visibility IN ? OR traces.user_id = ?)",
		Args: []any{publicLevels(), p.Viewer},
	}
}

// Self lists all of the viewer's own traces, private ones included. It
// matches on the user id only so a display name collision cannot leak traces.
type Self struct {
	Owner uuid.UUID
}

func (Self) Case() Case { return CaseSelf }

func (s Self) Condition() Condition {
	return Condition{SQL: "traces.user_id = ?", Args: []any{s.Owner}}
}

// OtherUser lists the public traces of someone other than the viewer.
type OtherUser struct {
	Owner uuid.UUID
}

func (OtherUser) Case() Case { return CaseOtherUser }

func (o OtherUser) Condition() Condition {
	return Condition{
		SQL:  "traces.visibility IN ? AND traces.user_id = ?",
		Args: []any{publicLevels(), o.Owner},
	}
}

// Spec is a compiled listing query.
type Spec struct {
	Predicate Predicate
	Tag       *string
	Order     string
	Limit     int
}

// BuildListQuery selects the predicate variant for a viewer (nil when
// anonymous) and a target user (nil when listing everyone).
func BuildListQuery(viewer, target *models.Identity, tag *string) Spec {
	var p Predicate
	switch {
	case target == nil && viewer == nil:
		p = Public{}
	case target == nil:
		p = PublicOrOwned{Viewer: viewer.ID}
	case viewer != nil && viewer.ID == target.ID:
		p = Self{Owner: viewer.ID}
	default:
		p = OtherUser{Owner: target.ID}
	}
	return Spec{Predicate: p, Tag: tag, Order: NewestFirst, Limit: PageSize}
}

// BuildFeedQuery is the public feed: publicly listable traces only,
// optionally restricted to one owner.
func BuildFeedQuery(owner *models.Identity, tag *string) Spec {
	var p Predicate = Public{}
	if owner != nil {
		p = OtherUser{Owner: owner.ID}
	}
	return Spec{Predicate: p, Tag: tag, Order: NewestFirst, Limit: PageSize}
}

// Tagged reports whether the listing is filtered by tag.
func (s Spec) Tagged() bool {
	return s.Tag != nil
}

// Conditions returns every conjunct of the query. tagged holds the ids of the
// traces carrying the filter tag; it is ignored for untagged listings. An
// empty tagged set makes the query unsatisfiable instead of dropping the filter.
func (s Spec) Conditions(tagged []uuid.UUID) []Condition {
	conds := []Condition{
		s.Predicate.Condition(),
		{SQL: "traces.visible = ?", Args: []any{true}},
		{SQL: "traces.state <> ?", Args: []any{string(models.StatePending)}},
	}
	if s.Tagged() {
		if len(tagged) == 0 {
			conds = append(conds, Condition{SQL: "1 = 0"})
		} else {
			conds = append(conds, Condition{SQL: "traces.id IN ?", Args: []any{tagged}})
		}
	}
	return conds
}

// Filter applies the conjuncts of s to db without ordering or paging.
func (s Spec) Filter(db *gorm.DB, tagged []uuid.UUID) *gorm.DB {
	for _, c := range s.Conditions(tagged) {
		db = db.Where(c.SQL, c.Args...)
	}
	return db
}

// Page applies the conjuncts, the ordering and the window of the given
// 1-based page.
func (s Spec) Page(db *gorm.DB, tagged []uuid.UUID, page int) *gorm.DB {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	return s.Filter(db, tagged).Order(s.Order).Limit(s.Limit).Offset((page - 1) * s.Limit)
}

func publicLevels() []string {
	levels := make([]string, 0, len(models.PubliclyListable))
	for _, v := range models.PubliclyListable {
		levels = append(levels, string(v))
	}
	return levels
}
