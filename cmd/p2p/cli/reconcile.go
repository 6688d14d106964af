package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/cimcon/p2p/internal/inventory"
)

// Reconciler lists inventory rows whose stored totals drifted.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]inventory.Drift, error)
}

// ReconcileOptions defines flags for the stock reconcile command.
type ReconcileOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReconcileSummary is the JSON output of the reconcile command.
type ReconcileSummary struct {
	OK     bool         `json:"ok"`
	Drifts []DriftEntry `json:"drifts"`
}

// DriftEntry reports one drifted inventory row.
type DriftEntry struct {
	ItemNo          string `json:"item_no"`
	StoredTotal     string `json:"stored_total"`
	LocationsTotal  string `json:"locations_total"`
	StoredAllocated string `json:"stored_allocated"`
	ActiveAllocated string `json:"active_allocated"`
}

// ReconcileCommand compares stored stock totals with their parts and prints
// the drift. It exits 10 when drift is found and never corrects stock.
func ReconcileCommand(ctx context.Context, inv Reconciler, opts ReconcileOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	drifts, err := inv.Reconcile(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "stock reconcile: %v\n", err)
		return 1
	}
	summary := buildReconcileSummary(drifts)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "stock reconcile: encode json: %v\n", err)
			return 1
		}
	} else {
		renderReconcileHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func buildReconcileSummary(drifts []inventory.Drift) ReconcileSummary {
	entries := make([]DriftEntry, 0, len(drifts))
	for _, d := range drifts {
		entries = append(entries, DriftEntry{
			ItemNo:          d.ItemNo,
			StoredTotal:     d.StoredTotal.String(),
			LocationsTotal:  d.LocationsTotal.String(),
			StoredAllocated: d.StoredAllocated.String(),
			ActiveAllocated: d.ActiveAllocated.String(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ItemNo < entries[j].ItemNo })
	return ReconcileSummary{OK: len(entries) == 0, Drifts: entries}
}

func renderReconcileHuman(out io.Writer, summary ReconcileSummary) {
	if summary.OK {
		_, _ = fmt.Fprintln(out, "Stock totals match their locations and allocations.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d drifted item(s):\n", len(summary.Drifts))
	for _, d := range summary.Drifts {
		_, _ = fmt.Fprintf(out, " - %s total %s vs locations %s, allocated %s vs active %s\n",
			d.ItemNo, d.StoredTotal, d.LocationsTotal, d.StoredAllocated, d.ActiveAllocated)
	}
}
