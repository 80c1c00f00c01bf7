package catalog

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const snapshotKey = "drugs"

// Index answers name lookups against a snapshot of the catalog.
//
// Matching is two-tier and case-insensitive: an exact generic-name match
// wins; otherwise the first drug (in creation order) whose generic name
// contains the query is returned. When several names contain the query the
// earliest one is picked, which is a weak tie-break; callers must tolerate
// both misses and surprising picks.
type Index struct {
	store Store
	cache *gocache.Cache
}

// NewIndex caches the snapshot for ttl; ttl <= 0 reads the store on every
// lookup.
func NewIndex(store Store, ttl time.Duration) *Index {
	idx := &Index{store: store}
	if ttl > 0 {
		idx.cache = gocache.New(ttl, 2*ttl)
	}
	return idx
}

// FindByName returns the matching drug, or ok=false when nothing matches.
func (i *Index) FindByName(ctx context.Context, name string) (*Drug, bool, error) {
	q := strings.ToLower(strings.TrimSpace(name))
	if q == "" {
		return nil, false, nil
	}

	drugs, err := i.snapshot(ctx)
	if err != nil {
		return nil, false, err
	}

	for k := range drugs {
		if strings.ToLower(strings.TrimSpace(drugs[k].GenericName)) == q {
			d := drugs[k]
			return &d, true, nil
		}
	}
	for k := range drugs {
		if strings.Contains(strings.ToLower(drugs[k].GenericName), q) {
			d := drugs[k]
			return &d, true, nil
		}
	}
	return nil, false, nil
}

func (i *Index) snapshot(ctx context.Context) ([]Drug, error) {
	if i.cache != nil {
		if v, ok := i.cache.Get(snapshotKey); ok {
			return v.([]Drug), nil
		}
	}
	drugs, err := i.store.ListDrugs(ctx)
	if err != nil {
		return nil, err
	}
	if i.cache != nil {
		i.cache.SetDefault(snapshotKey, drugs)
	}
	return drugs, nil
}
