package diagnosis

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/suPer8Hu/pharmacy-platform/internal/catalog"
)

// Finder looks a drug up by free-text name. catalog.Index implements it.
type Finder interface {
	FindByName(ctx context.Context, name string) (*catalog.Drug, bool, error)
}

type DrugResolver struct {
	finder Finder
	log    zerolog.Logger
}

func NewDrugResolver(finder Finder, log zerolog.Logger) *DrugResolver {
	return &DrugResolver{finder: finder, log: log}
}

// Resolve keeps the mentions that match a catalog drug, in input order.
// Unmatched mentions are dropped. A failed lookup is treated like a miss.
func (r *DrugResolver) Resolve(ctx context.Context, mentions []DrugMention) []ResolvedRecommendation {
	out := make([]ResolvedRecommendation, 0, len(mentions))
	for _, m := range mentions {
		d, ok, err := r.finder.FindByName(ctx, m.Name)
		if err != nil {
			r.log.Error().Err(err).Str("mention", m.Name).Msg("catalog lookup failed, dropping mention")
			continue
		}
		if !ok {
			r.log.Debug().Str("mention", m.Name).Msg("no catalog match for mention")
			continue
		}
		out = append(out, ResolvedRecommendation{DrugID: d.ID, Quantity: m.Quantity, Drug: *d})
	}
	return out
}

// collapseByDrug mirrors the pivot upsert: one entry per drug, at the
// position of its first mention, carrying the last mention's quantity.
func collapseByDrug(recs []ResolvedRecommendation) []ResolvedRecommendation {
	pos := make(map[uint64]int, len(recs))
	out := make([]ResolvedRecommendation, 0, len(recs))
	for _, r := range recs {
		if i, seen := pos[r.DrugID]; seen {
			out[i].Quantity = r.Quantity
			continue
		}
		pos[r.DrugID] = len(out)
		out = append(out, r)
	}
	return out
}
