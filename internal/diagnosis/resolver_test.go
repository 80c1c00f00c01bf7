package diagnosis

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/suPer8Hu/pharmacy-platform/internal/catalog"
)

type mapFinder struct {
	drugs map[string]catalog.Drug
	fail  map[string]bool
}

func (f mapFinder) FindByName(ctx context.Context, name string) (*catalog.Drug, bool, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if f.fail[key] {
		return nil, false, errors.New("db down")
	}
	d, ok := f.drugs[key]
	if !ok {
		return nil, false, nil
	}
	return &d, true, nil
}

func TestResolve_DropsUnmatchedMentions(t *testing.T) {
	f := mapFinder{drugs: map[string]catalog.Drug{
		"paracetamol": {ID: 11, GenericName: "Paracetamol"},
	}}
	r := NewDrugResolver(f, zerolog.Nop())

	got := r.Resolve(context.Background(), []DrugMention{{"Paracetamol", 2}, {"Unobtainium", 1}})
	if len(got) != 1 {
		t.Fatalf("expected 1 recommendation, got %+v", got)
	}
	if got[0].DrugID != 11 || got[0].Quantity != 2 || got[0].Drug.GenericName != "Paracetamol" {
		t.Fatalf("unexpected recommendation: %+v", got[0])
	}
}

func TestResolve_LookupErrorIsTreatedAsMiss(t *testing.T) {
	f := mapFinder{
		drugs: map[string]catalog.Drug{
			"ibuprofen": {ID: 2},
			"aspirin":   {ID: 3},
		},
		fail: map[string]bool{"ibuprofen": true},
	}
	r := NewDrugResolver(f, zerolog.Nop())

	got := r.Resolve(context.Background(), []DrugMention{{"Ibuprofen", 1}, {"Aspirin", 5}})
	if len(got) != 1 || got[0].DrugID != 3 || got[0].Quantity != 5 {
		t.Fatalf("unexpected recommendations: %+v", got)
	}
}

func TestResolve_KeepsInputOrder(t *testing.T) {
	f := mapFinder{drugs: map[string]catalog.Drug{
		"a": {ID: 30},
		"b": {ID: 10},
		"c": {ID: 20},
	}}
	r := NewDrugResolver(f, zerolog.Nop())

	got := r.Resolve(context.Background(), []DrugMention{{"c", 1}, {"a", 1}, {"b", 1}})
	var ids []uint64
	for _, g := range got {
		ids = append(ids, g.DrugID)
	}
	if !reflect.DeepEqual(ids, []uint64{20, 30, 10}) {
		t.Fatalf("unexpected order %v", ids)
	}
}

func TestCollapseByDrug(t *testing.T) {
	in := []ResolvedRecommendation{
		{DrugID: 1, Quantity: 1},
		{DrugID: 2, Quantity: 3},
		{DrugID: 1, Quantity: 4},
		{DrugID: 3, Quantity: 1},
		{DrugID: 2, Quantity: 2},
	}
	got := collapseByDrug(in)

	want := []ResolvedRecommendation{
		{DrugID: 1, Quantity: 4},
		{DrugID: 2, Quantity: 2},
		{DrugID: 3, Quantity: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}
