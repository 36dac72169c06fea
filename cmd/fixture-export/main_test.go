package main

import (
	"context"
	"testing"

	"github.com/danielpatrickdp/ihtai/internal/point"
	"github.com/danielpatrickdp/ihtai/internal/store"
)

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	if err := st.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, p := range []point.Point{
		{Input: []float64{1}, Action: []float64{-1, 0}, Drive: []float64{3}},
		{Input: []float64{2}, Action: []float64{1, 0}, Drive: []float64{4}},
	} {
		first, drive := p.Offsets()
		if err := st.InsertPoint(ctx, store.PointRecord{Key: p.Key(), Coords: p.Vector(), FirstActionIndex: first, FirstDriveIndex: drive}); err != nil {
			t.Fatalf("insert point: %v", err)
		}
		var rows []store.ActionRow
		for _, sig := range []string{"-1_0", "1_0", "-1_1", "1_1"} {
			rows = append(rows, store.ActionRow{Signature: sig, Horizon: 30})
		}
		if err := st.InsertRows(ctx, p.Key(), rows); err != nil {
			t.Fatalf("insert rows: %v", err)
		}
	}
	return st
}

func TestExportFixture(t *testing.T) {
	f, err := exportFixture(context.Background(), seededStore(t), 5, []int{2})
	if err != nil {
		t.Fatalf("exportFixture: %v", err)
	}
	if len(f.StartingData) != 2 {
		t.Fatalf("expected 2 starting points, got %d", len(f.StartingData))
	}
	if f.StartingData[0].Key() != "pattern_1_-1_0_3" {
		t.Fatalf("unexpected first point %s", f.StartingData[0].Key())
	}
	if len(f.PossibleActionValues) != 2 {
		t.Fatalf("expected 2 action dimensions, got %d", len(f.PossibleActionValues))
	}
	if got := len(f.PossibleActionValues.Signatures()); got != 4 {
		t.Fatalf("expected 4 signatures, got %d", got)
	}
	if f.Config.WindowSize != 5 || f.Config.ScoreTimesteps[0] != 2 {
		t.Fatalf("config not carried: %+v", f.Config)
	}
}

func TestExportFixtureEmptyStore(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := exportFixture(context.Background(), st, 5, []int{2}); err == nil {
		t.Fatal("expected error for empty store")
	}
}
