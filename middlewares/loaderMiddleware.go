package middlewares

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/utils"
	"gorm.io/gorm"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

// Loaders wrap your data loaders to inject via middleware
type Loaders struct {
	CredentialLoader  *dataloader.Loader[string, *models.WooCommerceCredential]
	LandingTourLoader *dataloader.Loader[string, *models.LandingTour]
}

// NewLoaders instantiates data loaders for the middleware
func NewLoaders(conn *gorm.DB) *Loaders {
	credentialReader := &credentialReader{db: conn}
	landingTourReader := &landingTourReader{db: conn}

	return &Loaders{
		CredentialLoader:  dataloader.NewBatchedLoader(credentialReader.getCredentials, dataloader.WithWait[string, *models.WooCommerceCredential](time.Millisecond)),
		LandingTourLoader: dataloader.NewBatchedLoader(landingTourReader.getLandingTours, dataloader.WithWait[string, *models.LandingTour](time.Millisecond)),
	}
}

func LoaderMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		loader := NewLoaders(config.GetDB())
		ctx := context.WithValue(c.Request.Context(), loadersKey, loader)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// For returns the request loaders. Callers outside an HTTP request (scripts,
// tests) get a fresh set bound to the process database.
func For(ctx context.Context) *Loaders {
	if loaders, ok := ctx.Value(loadersKey).(*Loaders); ok {
		return loaders
	}
	return NewLoaders(config.GetDB())
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}

// generateLoaderResults lines rows up with the requested keys.
// Keys without a row resolve to utils.ErrorRecordNotFound.
func generateLoaderResults[K comparable, T any](results []T, keys []K, keyOf func(T) K) []*dataloader.Result[*T] {
	resultMap := make(map[K]*T, len(results))
	for i := range results {
		resultMap[keyOf(results[i])] = &results[i]
	}

	loaderResults := make([]*dataloader.Result[*T], 0, len(keys))
	for _, key := range keys {
		data, ok := resultMap[key]
		if !ok {
			loaderResults = append(loaderResults, &dataloader.Result[*T]{Error: utils.ErrorRecordNotFound})
			continue
		}
		loaderResults = append(loaderResults, &dataloader.Result[*T]{Data: data})
	}
	return loaderResults
}
