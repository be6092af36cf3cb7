package orders

import (
	"github.com/tourdesk/backoffice/inbox"
	"github.com/tourdesk/backoffice/models"
)

// OrderResponse is an order row plus what the admin table shows about its storefront.
type OrderResponse struct {
	models.Order
	SiteWebsiteUrl string `json:"site_website_url,omitempty"`
	TourName       string `json:"tour_name,omitempty"`
}

type OrderListResponse struct {
	Items    []OrderResponse `json:"items"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

type UpdateTagsRequest struct {
	Tags []string `json:"tags" validate:"max=20,dive,max=64"`
}

type DedupeRequest struct {
	DryRun bool `json:"dry_run"`
	Limit  int  `json:"limit" validate:"min=0"`
}

type CustomerEmailsResponse struct {
	Email string                 `json:"email"`
	Items []inbox.MessageSummary `json:"items"`
}
