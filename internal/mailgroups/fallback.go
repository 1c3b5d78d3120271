package mailgroups

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/districtscouts/roster/internal/models"
	"github.com/districtscouts/roster/internal/unitgraph"
	apperrors "github.com/districtscouts/roster/pkg/errors"
)

// GroupLookup finds a mailing group by composite key. Implementations return an error matching
// apperrors.ErrLookupNotFound when the key is unknown.
type GroupLookup interface {
	LookupGroup(ctx context.Context, compositeKey string) (*models.SystemMailingGroup, error)
}

// MapLookup serves lookups from an in-memory index.
type MapLookup map[string]*models.SystemMailingGroup

// NewMapLookup indexes groups by composite key.
func NewMapLookup(groups []models.SystemMailingGroup) MapLookup {
	lookup := make(MapLookup, len(groups))
	for i := range groups {
		lookup[groups[i].CompositeKey] = &groups[i]
	}
	return lookup
}

func (m MapLookup) LookupGroup(_ context.Context, compositeKey string) (*models.SystemMailingGroup, error) {
	group, ok := m[compositeKey]
	if !ok {
		return nil, apperrors.ErrLookupNotFound.Withf("mailing group %q not found", compositeKey)
	}
	return group, nil
}

// DBLookup reads mailing groups from the database.
type DBLookup struct {
	db *gorm.DB
}

func NewDBLookup(db *gorm.DB) *DBLookup {
	return &DBLookup{db: db}
}

func (l *DBLookup) LookupGroup(ctx context.Context, compositeKey string) (*models.SystemMailingGroup, error) {
	var group models.SystemMailingGroup
	err := l.db.WithContext(ctx).Where("composite_key = ?", compositeKey).Take(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrLookupNotFound.Withf("mailing group %q not found", compositeKey)
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// FallbackResolver resolves a group's members, substituting or adding the members of its
// fallback chain.
type FallbackResolver struct {
	graph  *unitgraph.Graph
	lookup GroupLookup
}

// NewFallbackResolver constructs a resolver over graph.
func NewFallbackResolver(graph *unitgraph.Graph, lookup GroupLookup) *FallbackResolver {
	return &FallbackResolver{graph: graph, lookup: lookup}
}

// Resolve returns the members of group. An empty primary set is replaced by the fallback's
// members; with AlwaysIncludeFallbackGroup the two are merged.
func (r *FallbackResolver) Resolve(ctx context.Context, group *models.SystemMailingGroup) (PersonSet, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := CheckChain(ctx, r.lookup, group); err != nil {
		return nil, err
	}
	return r.resolve(ctx, group, nil)
}

// CheckChain follows group's fallback links to the end. It fails with ErrFallbackCycle when a
// key repeats and with the lookup's error when a key is unknown.
func CheckChain(ctx context.Context, lookup GroupLookup, group *models.SystemMailingGroup) error {
	chain := []string{group.CompositeKey}
	next := strings.TrimSpace(group.FallbackGroupCompositeKey)
	for next != "" {
		for _, seen := range chain {
			if seen == next {
				return apperrors.ErrFallbackCycle.Withf("fallback cycle detected: %s", strings.Join(append(chain, next), " -> "))
			}
		}
		chain = append(chain, next)

		fallback, err := lookup.LookupGroup(ctx, next)
		if err != nil {
			return err
		}
		next = strings.TrimSpace(fallback.FallbackGroupCompositeKey)
	}
	return nil
}

func (r *FallbackResolver) resolve(ctx context.Context, group *models.SystemMailingGroup, chain []string) (PersonSet, error) {
	key := group.CompositeKey
	for _, seen := range chain {
		if seen == key {
			return nil, apperrors.ErrFallbackCycle.Withf("fallback cycle detected: %s", strings.Join(append(chain, key), " -> "))
		}
	}
	chain = append(chain, key)

	primary, err := Resolve(group.MailConfig(), r.graph)
	if err != nil {
		return nil, err
	}

	fallbackKey := strings.TrimSpace(group.FallbackGroupCompositeKey)
	if fallbackKey == "" {
		return primary, nil
	}
	if primary.Len() > 0 && !group.AlwaysIncludeFallbackGroup {
		return primary, nil
	}

	fallbackGroup, err := r.lookup.LookupGroup(ctx, fallbackKey)
	if err != nil {
		return nil, err
	}
	fallback, err := r.resolve(ctx, fallbackGroup, chain)
	if err != nil {
		return nil, err
	}

	if group.AlwaysIncludeFallbackGroup {
		return primary.Union(fallback), nil
	}
	return fallback, nil
}
