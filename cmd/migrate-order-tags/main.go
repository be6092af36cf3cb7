// migrate-order-tags moves the legacy manual statuses (reserved_date,
// awaiting_reply) into order tags and resets those orders to unprocessed.
// Orders still carrying the legacy "new" status become unprocessed too.
//
// Usage:
//
//	go run ./cmd/migrate-order-tags --dry-run
//	go run ./cmd/migrate-order-tags
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/reconcile"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "report what would change without writing")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized. Set DB_* env vars.")
		os.Exit(1)
	}

	report, err := reconcile.MigrateLegacyStatuses(context.Background(), db, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate failed after %d orders: %v\n", report.Scanned, err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
}
