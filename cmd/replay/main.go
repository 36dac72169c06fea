package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/ihtai/internal/replay"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to fixture JSON")
	jsonOut := flag.Bool("json", false, "print per-turn results as JSON instead of a table")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json [--json]")
		os.Exit(2)
	}
	os.Exit(runFixtureMode(*fixturePath, *jsonOut))
}

// #endregion main

// #region fixture-mode

func runFixtureMode(path string, jsonOut bool) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}

	results, summary, err := replay.Replay(
		context.Background(),
		f.StartingData,
		f.PossibleActionValues,
		f.ToObservations(),
		f.Config.ToReplayConfig(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 2
	}

	mismatches := replay.Compare(results, f.ExpectedResults)
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Results    []replay.ReplayResult `json:"results"`
			Summary    replay.ReplaySummary  `json:"summary"`
			Mismatches []replay.Mismatch     `json:"mismatches"`
		}{results, summary, mismatches}); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			return 2
		}
	} else {
		printResults(results, summary)
		printMismatches(mismatches)
	}

	if len(mismatches) > 0 {
		return 1
	}
	return 0
}

// #endregion fixture-mode

// #region output

func printResults(results []replay.ReplayResult, summary replay.ReplaySummary) {
	fmt.Printf("%-8s| %-24s| %-24s| %-8s| %-24s| %s\n", "Turn", "Nearest", "Cell", "Action", "Credited", "Split")
	fmt.Printf("%-8s+%-25s+%-25s+%-9s+%-25s+%s\n",
		"--------", "-------------------------", "-------------------------", "---------", "-------------------------", "------")
	for _, r := range results {
		action := r.Action
		if r.Error != "" {
			action = "ERROR"
		}
		fmt.Printf("%-8s| %-24s| %-24s| %-8s| %-24s| %s\n", r.TurnID, r.NearestKey, r.Cell, action, r.Credited, r.Split)
	}
	fmt.Printf("\nSummary: %d turns, %d credits, %d splits, %d errors, %d cells\n",
		summary.TotalTurns, summary.Credits, summary.Splits, summary.Errors, summary.FinalCells)
}

func printMismatches(mismatches []replay.Mismatch) {
	if len(mismatches) == 0 {
		fmt.Println("All expectations match")
		return
	}
	fmt.Printf("\n%-8s| %-9s| %-24s| %s\n", "Turn", "Field", "Expected", "Replayed")
	for _, m := range mismatches {
		fmt.Printf("%-8s| %-9s| %-24s| %s\n", m.TurnID, m.Field, m.Want, m.Got)
	}
	fmt.Printf("\n%d diverge\n", len(mismatches))
}

// #endregion output
