package query

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"trace-service/internal/models"
	"trace-service/internal/testutil"
)

func TestBuildListQueryCases(t *testing.T) {
	alice := &models.Identity{ID: uuid.New(), DisplayName: "alice"}
	bob := &models.Identity{ID: uuid.New(), DisplayName: "bob"}

	tests := []struct {
		name   string
		viewer *models.Identity
		target *models.Identity
		want   Predicate
	}{
		{"anonymous browsing", nil, nil, Public{}},
		{"owner browsing", alice, nil, PublicOrOwned{Viewer: alice.ID}},
		{"self", alice, alice, Self{Owner: alice.ID}},
		{"other user", alice, bob, OtherUser{Owner: bob.ID}},
		{"anonymous viewing a user", nil, bob, OtherUser{Owner: bob.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := BuildListQuery(tt.viewer, tt.target, nil)
			assert.Equal(t, tt.want, spec.Predicate)
			assert.Equal(t, PageSize, spec.Limit)
			assert.Equal(t, NewestFirst, spec.Order)
		})
	}
}

func TestSelfMatchesOnIDOnly(t *testing.T) {
	id := uuid.New()
	viewer := &models.Identity{ID: id, DisplayName: "alice"}
	// Same account even though the display name differs.
	target := &models.Identity{ID: id, DisplayName: "Alice"}

	spec := BuildListQuery(viewer, target, nil)
	assert.Equal(t, CaseSelf, spec.Predicate.Case())
	c := spec.Predicate.Condition()
	assert.Equal(t, "traces.user_id = ?", c.SQL)
	assert.Equal(t, []any{id}, c.Args)
}

func TestConditionsAlwaysFilterSoftDeletedAndPending(t *testing.T) {
	spec := BuildListQuery(nil, nil, nil)
	conds := spec.Conditions(nil)
	require.Len(t, conds, 3)
	assert.Equal(t, "traces.visibility IN ?", conds[0].SQL)
	assert.Equal(t, []any{[]string{"public", "identifiable"}}, conds[0].Args)
	assert.Equal(t, Condition{SQL: "traces.visible = ?", Args: []any{true}}, conds[1])
	assert.Equal(t, Condition{SQL: "traces.state <> ?", Args: []any{"pending"}}, conds[2])
}

func TestTagWithoutMatchesIsUnsatisfiable(t *testing.T) {
	tag := "nonexistent-xyz"
	spec := BuildListQuery(nil, nil, &tag)
	conds := spec.Conditions(nil)
	require.Len(t, conds, 4)
	assert.Equal(t, Condition{SQL: "1 = 0"}, conds[3])
}

func TestTagWithMatches(t *testing.T) {
	tag := "alps"
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	spec := BuildListQuery(&models.Identity{ID: uuid.New()}, nil, &tag)
	conds := spec.Conditions(ids)
	require.Len(t, conds, 4)
	assert.Equal(t, "traces.id IN ?", conds[3].SQL)
	assert.Equal(t, []any{ids}, conds[3].Args)
}

func TestBuildFeedQuery(t *testing.T) {
	assert.Equal(t, Public{}, BuildFeedQuery(nil, nil).Predicate)

	owner := &models.Identity{ID: uuid.New()}
	assert.Equal(t, OtherUser{Owner: owner.ID}, BuildFeedQuery(owner, nil).Predicate)
}

func TestPageOffsetNeverOverflows(t *testing.T) {
	db := testutil.NewTestDB(t).Session(&gorm.Session{DryRun: true})
	spec := BuildListQuery(nil, nil, nil)

	offset := func(page int) int {
		var traces []models.Trace
		stmt := spec.Page(db.Model(&models.Trace{}), nil, page).Find(&traces).Statement
		limit, ok := stmt.Clauses["LIMIT"].Expression.(clause.Limit)
		require.True(t, ok)
		return limit.Offset
	}

	assert.Equal(t, 0, offset(0))
	assert.Equal(t, PageSize, offset(2))
	assert.Equal(t, (MaxPage-1)*PageSize, offset(MaxPage))
	assert.Equal(t, (MaxPage-1)*PageSize, offset(math.MaxInt))
	assert.Positive(t, offset(math.MaxInt))
}
