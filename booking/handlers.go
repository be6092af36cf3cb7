package booking

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tourdesk/backoffice/config"
)

// BookingHandler serves the public POST /api/bookings.
// An Idempotency-Key header is forwarded to Stripe so a retried submit is not charged twice.
func BookingHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BookingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		order, err := s.Book(c.Request.Context(), req, strings.TrimSpace(c.GetHeader("Idempotency-Key")))
		if err != nil {
			var perr *PaymentError
			switch {
			case errors.As(err, &perr):
				c.JSON(http.StatusPaymentRequired, gin.H{
					"error":             perr.Error(),
					"payment_status":    perr.Status,
					"payment_intent_id": perr.PaymentIntentId,
				})
			case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidPhone), errors.Is(err, ErrUnknownTicketType):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			case errors.Is(err, ErrUnknownTour):
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			default:
				config.LogError(s.logger(), "booking", "BookingHandler", "book", req.TourSlug, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}

		c.JSON(http.StatusCreated, BookingResponse{
			OrderId:         order.OrderId,
			Status:          string(order.Status),
			Tour:            order.Tour,
			TourDate:        order.TourDate,
			TourTime:        order.TourTime,
			Total:           order.TotalCost.StringFixed(2),
			Currency:        order.Currency,
			PaymentIntentId: *order.TransactionId,
		})
	}
}

func TourHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tour, err := s.Tour(c.Request.Context(), c.Param("slug"))
		if err != nil {
			if errors.Is(err, ErrUnknownTour) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, tour)
	}
}
