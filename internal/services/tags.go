package services

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"trace-service/internal/models"
)

// TagLoader fetches the current tags of one trace.
type TagLoader interface {
	TagsFor(ctx context.Context, traceID uuid.UUID) ([]string, error)
}

// AggregateTags returns the sorted distinct tags across page. When refetch is
// set, as for tag-filtered listings whose rows carry no full tag set, each
// trace's tags are loaded again and written back onto its row.
func AggregateTags(ctx context.Context, page []models.Trace, refetch bool, loader TagLoader) ([]string, error) {
	seen := make(map[string]struct{})
	for i := range page {
		names := page[i].TagNames()
		if refetch {
			var err error
			names, err = loader.TagsFor(ctx, page[i].ID)
			if err != nil {
				return nil, err
			}
			page[i].Tags = make([]models.Tag, 0, len(names))
			for _, name := range names {
				page[i].Tags = append(page[i].Tags, models.Tag{TraceID: page[i].ID, Tag: name})
			}
		}
		for _, name := range names {
			seen[name] = struct{}{}
		}
	}

	tags := make([]string, 0, len(seen))
	for name := range seen {
		tags = append(tags, name)
	}
	sort.Strings(tags)
	return tags, nil
}
