package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/tourdesk/backoffice/models"
	"gorm.io/gorm"
)

type credentialReader struct {
	db *gorm.DB
}

func (r *credentialReader) getCredentials(ctx context.Context, siteNames []string) []*dataloader.Result[*models.WooCommerceCredential] {
	var results []models.WooCommerceCredential
	err := r.db.WithContext(ctx).Where("site_name IN ?", siteNames).Find(&results).Error
	if err != nil {
		return handleError[*models.WooCommerceCredential](len(siteNames), err)
	}
	return generateLoaderResults(results, siteNames, func(c models.WooCommerceCredential) string { return c.SiteName })
}

// GetCredential batches site lookups made while serving one request.
func GetCredential(ctx context.Context, siteName string) (*models.WooCommerceCredential, error) {
	loaders := For(ctx)
	return loaders.CredentialLoader.Load(ctx, siteName)()
}

func GetCredentials(ctx context.Context, siteNames []string) ([]*models.WooCommerceCredential, []error) {
	loaders := For(ctx)
	return loaders.CredentialLoader.LoadMany(ctx, siteNames)()
}

type landingTourReader struct {
	db *gorm.DB
}

func (r *landingTourReader) getLandingTours(ctx context.Context, slugs []string) []*dataloader.Result[*models.LandingTour] {
	var results []models.LandingTour
	err := r.db.WithContext(ctx).Where("slug IN ?", slugs).Find(&results).Error
	if err != nil {
		return handleError[*models.LandingTour](len(slugs), err)
	}
	return generateLoaderResults(results, slugs, func(t models.LandingTour) string { return t.Slug })
}

func GetLandingTour(ctx context.Context, slug string) (*models.LandingTour, error) {
	loaders := For(ctx)
	return loaders.LandingTourLoader.Load(ctx, slug)()
}
