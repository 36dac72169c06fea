package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/danielpatrickdp/ihtai/internal/config"
	"github.com/danielpatrickdp/ihtai/internal/point"
	"github.com/danielpatrickdp/ihtai/internal/replay"
	"github.com/danielpatrickdp/ihtai/internal/store"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to ihtai.db")
	outPath := flag.String("out", "", "output fixture JSON path")
	window := flag.Int("window", 301, "sliding window size written into the fixture config")
	timesteps := flag.String("timesteps", "30", "comma-separated score timesteps written into the fixture config")
	flag.Parse()

	if *dbPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db path/to/ihtai.db --out path/to/fixture.json [--window N] [--timesteps 30,60]")
		os.Exit(2)
	}

	if err := run(*dbPath, *outPath, *window, *timesteps); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region extract

func run(dbPath, outPath string, window int, timesteps string) error {
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer st.Close()

	horizons, err := config.ParseTimesteps(timesteps)
	if err != nil {
		return err
	}
	f, err := exportFixture(context.Background(), st, window, horizons)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("write fixture: %w", err)
	}
	fmt.Printf("Exported %d cells, %d action dimensions to %s\n",
		len(f.StartingData), len(f.PossibleActionValues), outPath)
	return nil
}

// exportFixture snapshots every stored cell as starting data. The alphabet is rebuilt
// from the signatures present in the action tables, one value set per dimension.
func exportFixture(ctx context.Context, st store.Store, window int, horizons []int) (*replay.Fixture, error) {
	recs, err := st.ListPoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cells: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("no cells in store")
	}

	f := &replay.Fixture{
		Description: fmt.Sprintf("exported snapshot of %d cells", len(recs)),
		Config: replay.FixtureConfig{
			WindowSize:     window,
			ScoreTimesteps: horizons,
		},
		Observations:    []replay.FixtureObservation{},
		ExpectedResults: []replay.FixtureExpectedResult{},
	}

	var dims [][]point.Symbol
	seen := map[int]map[string]bool{}
	for _, rec := range recs {
		p, err := point.FromVector(rec.Coords, rec.FirstActionIndex, rec.FirstDriveIndex)
		if err != nil {
			return nil, fmt.Errorf("cell %s: %w", rec.Key, err)
		}
		f.StartingData = append(f.StartingData, p)

		rows, err := st.Rows(ctx, rec.Key)
		if err != nil {
			return nil, fmt.Errorf("rows %s: %w", rec.Key, err)
		}
		for _, r := range rows {
			for i, v := range strings.Split(r.Signature, point.Sep) {
				for len(dims) <= i {
					dims = append(dims, nil)
					seen[len(dims)-1] = map[string]bool{}
				}
				if !seen[i][v] {
					seen[i][v] = true
					dims[i] = append(dims[i], point.Symbol(v))
				}
			}
		}
	}
	f.PossibleActionValues = point.Alphabet(dims)
	if err := f.PossibleActionValues.Validate(); err != nil {
		return nil, fmt.Errorf("rebuilt alphabet: %w", err)
	}
	return f, nil
}

// #endregion extract
