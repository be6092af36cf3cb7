// recompute-profit reruns the ticket cost / profit split for stored orders,
// e.g. after a margin or per-ticket fee change.
//
// Usage:
//
//	go run ./cmd/recompute-profit --site verona-arena --dry-run
//	go run ./cmd/recompute-profit --order-id verona-arena-1042
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/reconcile"
)

func main() {
	site := flag.String("site", "", "only orders of this site")
	orderID := flag.String("order-id", "", "only this order key")
	dryRun := flag.Bool("dry-run", false, "count changes without writing")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized. Set DB_* env vars.")
		os.Exit(1)
	}

	report, err := reconcile.RecomputeProfits(context.Background(), db, reconcile.RecomputeOptions{
		SiteName: strings.TrimSpace(*site),
		OrderId:  strings.TrimSpace(*orderID),
		DryRun:   *dryRun,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "recompute failed: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	if report.Failed > 0 {
		os.Exit(2)
	}
}
