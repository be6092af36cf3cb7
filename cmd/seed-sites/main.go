// seed-sites upserts WooCommerce credentials and landing tours from a YAML
// file. ${VAR} references are expanded from the environment so secrets can
// stay out of the file.
//
// Usage:
//
//	go run ./cmd/seed-sites --file sites.yaml
//
// sites.yaml:
//
//	sites:
//	  - site_name: verona-arena
//	    tour_name: Arena di Verona
//	    api_url: https://arena.example.com
//	    consumer_key: ${VERONA_CK}
//	    consumer_secret: ${VERONA_CS}
//	    profit_margin: "30"
//	landing_tours:
//	  - slug: colosseum
//	    name: Colosseum Skip the Line
//	    currency: eur
//	    prices:
//	      - {type: Adult, unit_price: "45.00"}
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/models"
	"gopkg.in/yaml.v3"
)

type siteEntry struct {
	SiteName       string `yaml:"site_name"`
	TourName       string `yaml:"tour_name"`
	ApiUrl         string `yaml:"api_url"`
	WebsiteUrl     string `yaml:"website_url"`
	ConsumerKey    string `yaml:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret"`
	WebhookSecret  string `yaml:"webhook_secret"`
	Timezone       string `yaml:"timezone"`
	Active         *bool  `yaml:"active"`
	ProfitMargin   string `yaml:"profit_margin"`
}

type priceEntry struct {
	Type      string `yaml:"type"`
	UnitPrice string `yaml:"unit_price"`
}

type tourEntry struct {
	Slug         string       `yaml:"slug"`
	Name         string       `yaml:"name"`
	Currency     string       `yaml:"currency"`
	Timezone     string       `yaml:"timezone"`
	Active       *bool        `yaml:"active"`
	ProfitMargin string       `yaml:"profit_margin"`
	Prices       []priceEntry `yaml:"prices"`
}

type seedFile struct {
	Sites        []siteEntry `yaml:"sites"`
	LandingTours []tourEntry `yaml:"landing_tours"`
}

func parseSeedFile(raw []byte) (seedFile, error) {
	var f seedFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &f); err != nil {
		return f, fmt.Errorf("parse yaml: %w", err)
	}
	return f, nil
}

func optionalDecimal(field, raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", field, raw, err)
	}
	return &v, nil
}

func (s siteEntry) credential() (*models.WooCommerceCredential, error) {
	margin, err := optionalDecimal("profit_margin", s.ProfitMargin)
	if err != nil {
		return nil, err
	}
	return &models.WooCommerceCredential{
		SiteName:       s.SiteName,
		TourName:       s.TourName,
		ApiUrl:         s.ApiUrl,
		WebsiteUrl:     s.WebsiteUrl,
		ConsumerKey:    s.ConsumerKey,
		ConsumerSecret: s.ConsumerSecret,
		WebhookSecret:  s.WebhookSecret,
		Timezone:       s.Timezone,
		IsActive:       s.Active,
		ProfitMargin:   margin,
	}, nil
}

func (t tourEntry) landingTour() (*models.LandingTour, error) {
	margin, err := optionalDecimal("profit_margin", t.ProfitMargin)
	if err != nil {
		return nil, err
	}
	tour := &models.LandingTour{
		Slug:         t.Slug,
		Name:         t.Name,
		Currency:     t.Currency,
		Timezone:     t.Timezone,
		IsActive:     t.Active,
		ProfitMargin: margin,
	}
	for _, p := range t.Prices {
		price, err := decimal.NewFromString(p.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("price %s %q: %w", p.Type, p.UnitPrice, err)
		}
		tour.Prices = append(tour.Prices, models.TicketPrice{Type: p.Type, UnitPrice: price})
	}
	return tour, nil
}

// seed stops at the first invalid entry; rows written before it stay.
func seed(ctx context.Context, f seedFile) (sites int, tours int, err error) {
	for _, s := range f.Sites {
		cred, err := s.credential()
		if err == nil {
			_, err = models.UpsertCredential(ctx, cred)
		}
		if err != nil {
			return sites, tours, fmt.Errorf("site %s: %w", s.SiteName, err)
		}
		sites++
	}
	for _, t := range f.LandingTours {
		tour, err := t.landingTour()
		if err == nil {
			err = models.UpsertLandingTour(ctx, tour)
		}
		if err != nil {
			return sites, tours, fmt.Errorf("landing tour %s: %w", t.Slug, err)
		}
		tours++
	}
	return sites, tours, nil
}

func main() {
	path := flag.String("file", "", "path to the sites YAML file (required)")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		os.Exit(1)
	}
	raw, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", *path, err)
		os.Exit(1)
	}
	f, err := parseSeedFile(raw)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized. Set DB_* env vars.")
		os.Exit(1)
	}

	sites, tours, err := seed(context.Background(), f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed after %d sites / %d tours: %v\n", sites, tours, err)
		os.Exit(1)
	}
	fmt.Printf("Seeded %d sites and %d landing tours\n", sites, tours)
}
