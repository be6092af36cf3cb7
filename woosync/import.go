package woosync

import (
	"context"

	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/reconcile"
	"github.com/tourdesk/backoffice/woocommerce"
)

const importRateLimitHint = "rate limited by WooCommerce; run the import again later"

type ImportResult struct {
	Id      int64  `json:"id"`
	OrderId string `json:"order_id,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ImportReport struct {
	SiteName  string         `json:"site_name"`
	Requested int            `json:"requested"`
	Imported  int            `json:"imported"`
	Failed    int            `json:"failed"`
	Aborted   bool           `json:"aborted"`
	Results   []ImportResult `json:"results"`
}

// ImportOrders fetches specific WooCommerce orders by id and upserts them.
// Failures are reported per id; only a client that cannot be built fails the whole call.
func (s *Syncer) ImportOrders(ctx context.Context, site models.WooCommerceCredential, ids []int64) (ImportReport, error) {
	report := ImportReport{SiteName: site.SiteName}

	client, err := s.NewClient(site, s.Settings)
	if err != nil {
		return report, err
	}
	margins, err := reconcile.LoadMarginTable(ctx, s.DB)
	if err != nil {
		return report, err
	}

	seen := make(map[int64]bool, len(ids))
	unique := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	report.Requested = len(unique)

	for i, id := range unique {
		var wo woocommerce.Order
		err := s.retryRateLimited(ctx, site.SiteName, func() error {
			var err error
			wo, err = client.GetOrder(ctx, id)
			return err
		})
		if woocommerce.IsRateLimited(err) {
			report.Aborted = true
			for _, rest := range unique[i:] {
				report.Results = append(report.Results, ImportResult{Id: rest, Error: importRateLimitHint})
				report.Failed++
			}
			break
		}
		if err != nil {
			msg := err.Error()
			if woocommerce.IsNotFound(err) {
				msg = "order not found on " + site.SiteName
			}
			report.Results = append(report.Results, ImportResult{Id: id, Error: msg})
			report.Failed++
			continue
		}

		order, err := reconcile.BuildOrder(site, wo, margins)
		if err != nil {
			report.Results = append(report.Results, ImportResult{Id: id, Error: err.Error()})
			report.Failed++
			continue
		}
		res, err := reconcile.UpsertOrder(ctx, s.DB, order)
		if err != nil {
			report.Results = append(report.Results, ImportResult{Id: id, OrderId: order.OrderId, Error: err.Error()})
			report.Failed++
			continue
		}
		s.publishOutcome(ctx, res)
		report.Results = append(report.Results, ImportResult{Id: id, OrderId: order.OrderId, Outcome: string(res.Outcome)})
		report.Imported++
	}

	s.logger().WithField("site_name", site.SiteName).
		WithField("imported", report.Imported).
		WithField("failed", report.Failed).
		Info("woo order import finished")
	return report, nil
}
