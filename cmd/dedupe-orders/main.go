// dedupe-orders collapses orders sharing an order_id to one survivor and then
// adds the unique index on orders.order_id. Runs as a scheduled job.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/reconcile"
)

func main() {
	limit := flag.Int("limit", 0, "max duplicate groups to resolve (0 = all)")
	dryRun := flag.Bool("dry-run", false, "report groups without deleting")
	flag.Parse()

	if *limit < 0 {
		fmt.Fprintln(os.Stderr, "--limit must be >= 0")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized. Set DB_* env vars.")
		os.Exit(1)
	}

	report, err := reconcile.ResolveDuplicates(context.Background(), db, reconcile.DedupeOptions{DryRun: *dryRun, Limit: *limit})
	if err != nil {
		config.LogError(config.GetLogger(), "dedupe-orders", "main", "resolve duplicates", nil, err)
		os.Exit(1)
	}
	config.GetLogger().WithFields(logrus.Fields{
		"field":        "dedupe-orders",
		"groups":       report.Groups,
		"deleted":      report.Deleted,
		"dry_run":      report.DryRun,
		"unique_index": report.UniqueIndex,
	}).Info("dedupe finished")

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
}
