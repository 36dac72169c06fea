package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/danielpatrickdp/ihtai/internal/point"
	"github.com/danielpatrickdp/ihtai/internal/store"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to ihtai.db")
	cell := flag.String("cell", "", "show one cell's action table")
	journal := flag.Int("journal", 0, "show the N most recent structural events")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/ihtai.db [--cell key] [--journal N] [--json]")
		os.Exit(2)
	}

	st, err := store.OpenSQLiteReadOnly(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	switch {
	case *cell != "":
		err = runCellMode(ctx, st, point.NormalizeKey(*cell), *jsonOut)
	case *journal > 0:
		err = runJournalMode(ctx, st, *journal, *jsonOut)
	default:
		err = runListMode(ctx, st, *jsonOut)
		if err == nil && !*jsonOut {
			err = printTotals(st.DB())
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	Key              string    `json:"key"`
	Dimensions       string    `json:"dimensions"`
	UpdateCount      uint64    `json:"update_count"`
	UpdatesPerMinute float64   `json:"updates_per_minute"`
	Actions          int       `json:"actions"`
	BestAction       string    `json:"best_action"`
	BestScore        float64   `json:"best_score"`
	LastResetAt      time.Time `json:"last_reset_at"`
}

func runListMode(ctx context.Context, st store.Store, jsonOut bool) error {
	recs, err := st.ListPoints(ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(os.Stderr, "no cells found")
		return nil
	}

	now := time.Now()
	rows := make([]listRow, 0, len(recs))
	for _, rec := range recs {
		actions, err := st.Rows(ctx, rec.Key)
		if err != nil {
			return err
		}
		lr := listRow{
			Key:              rec.Key,
			Dimensions:       fmt.Sprintf("%d/%d/%d", rec.FirstActionIndex, rec.FirstDriveIndex-rec.FirstActionIndex, len(rec.Coords)-rec.FirstDriveIndex),
			UpdateCount:      rec.UpdateCount,
			UpdatesPerMinute: accessRate(rec, now),
			Actions:          len(actions),
			LastResetAt:      rec.LastResetAt,
		}
		if best, ok, err := st.BestRow(ctx, rec.Key, 0); err != nil {
			return err
		} else if ok {
			lr.BestAction = best.Signature
			lr.BestScore = best.Score
		}
		rows = append(rows, lr)
	}

	if jsonOut {
		return printJSON(rows)
	}
	fmt.Printf("%-32s  %-8s  %8s  %10s  %7s  %-10s  %10s\n",
		"Cell", "I/A/D", "Updates", "Upd/min", "Actions", "Best", "Best Score")
	fmt.Printf("%-32s+-%-8s+-%8s+-%10s+-%7s+-%-10s+-%10s\n",
		"--------------------------------", "--------", "--------", "----------", "-------", "----------", "----------")
	for _, r := range rows {
		fmt.Printf("%-32s  %-8s  %8d  %10.3f  %7d  %-10s  %10.4f\n",
			r.Key, r.Dimensions, r.UpdateCount, r.UpdatesPerMinute, r.Actions, r.BestAction, r.BestScore)
	}
	fmt.Printf("\n%d cells\n", len(rows))
	return nil
}

// printTotals reads table sizes straight from SQLite.
func printTotals(db *sql.DB) error {
	var rows, events int
	if err := db.QueryRow(`SELECT COUNT(*) FROM action_rows`).Scan(&rows); err != nil {
		return fmt.Errorf("count rows: %w", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM journal`).Scan(&events); err != nil {
		return fmt.Errorf("count journal: %w", err)
	}
	fmt.Printf("%d action rows, %d journal events\n", rows, events)
	return nil
}

// accessRate mirrors the server's updates-per-minute with a one second floor.
func accessRate(rec store.PointRecord, now time.Time) float64 {
	elapsed := now.Sub(rec.LastResetAt)
	if elapsed < time.Second {
		elapsed = time.Second
	}
	return float64(rec.UpdateCount) / elapsed.Minutes()
}

// #endregion list-mode

// #region cell-mode

func runCellMode(ctx context.Context, st store.Store, key string, jsonOut bool) error {
	rec, ok, err := st.GetPoint(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cell %s not found", key)
	}
	rows, err := st.Rows(ctx, key)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(struct {
			Key     string            `json:"key"`
			Coords  []float64         `json:"coords"`
			Updates uint64            `json:"update_count"`
			Actions []store.ActionRow `json:"actions"`
		}{rec.Key, rec.Coords, rec.UpdateCount, rows})
	}

	fmt.Printf("Cell:      %s\n", rec.Key)
	fmt.Printf("Coords:    %v (action at %d, drive at %d)\n", rec.Coords, rec.FirstActionIndex, rec.FirstDriveIndex)
	fmt.Printf("Updates:   %d since %s\n", rec.UpdateCount, rec.LastResetAt.Format(time.RFC3339))
	fmt.Printf("Created:   %s\n\n", rec.CreatedAt.Format(time.RFC3339))
	fmt.Printf("%-16s  %7s  %12s  %8s\n", "Signature", "Horizon", "Score", "Updates")
	fmt.Printf("%-16s+-%7s+-%12s+-%8s\n", "----------------", "-------", "------------", "--------")
	for _, r := range rows {
		fmt.Printf("%-16s  %7d  %12.6f  %8d\n", r.Signature, r.Horizon, r.Score, r.UpdateCount)
	}
	return nil
}

// #endregion cell-mode

// #region journal-mode

func runJournalMode(ctx context.Context, st store.Store, limit int, jsonOut bool) error {
	entries, err := st.ListJournal(ctx, limit)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(entries)
	}
	fmt.Printf("%-20s  %-10s  %-32s  %s\n", "Time", "Kind", "Cell", "Detail")
	for _, e := range entries {
		fmt.Printf("%-20s  %-10s  %-32s  %s\n", e.CreatedAt.Format("2006-01-02T15:04:05Z"), e.Kind, e.CellKey, e.DetailJSON)
	}
	return nil
}

// #endregion journal-mode

// #region helpers

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion helpers
