// import-missing-orders fetches specific WooCommerce orders by id and upserts
// them, for orders a sync window skipped.
//
// Usage:
//
//	go run ./cmd/import-missing-orders --site verona-arena --ids 1041,1042,1050
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/events"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/notify"
	"github.com/tourdesk/backoffice/utils"
	"github.com/tourdesk/backoffice/woosync"
)

func parseIDs(csv string) ([]int64, error) {
	parts := utils.SplitAndTrim(csv)
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid order id %q", p)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no order ids given")
	}
	return ids, nil
}

func main() {
	site := flag.String("site", "", "site_name of the WooCommerce credential (required)")
	idsFlag := flag.String("ids", "", "comma separated WooCommerce order ids (required)")
	flag.Parse()

	siteName := strings.TrimSpace(*site)
	if siteName == "" {
		fmt.Fprintln(os.Stderr, "--site is required")
		os.Exit(1)
	}
	ids, err := parseIDs(*idsFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized. Set DB_* env vars.")
		os.Exit(1)
	}

	cred, err := models.GetCredentialBySite(ctx, siteName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "site %s: %v\n", siteName, err)
		os.Exit(1)
	}

	publisher, err := events.NewPublisherFromEnv()
	if err != nil {
		publisher = events.Noop{}
	}
	syncer := woosync.NewSyncer(publisher, notify.Noop{})
	report, err := syncer.ImportOrders(ctx, *cred, ids)
	if err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	if report.Failed > 0 {
		os.Exit(2)
	}
}
