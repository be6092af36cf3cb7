package mailer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/utils"
)

// uploadFile is swapped in tests.
var uploadFile func(ctx context.Context, objectName string, r io.Reader) (string, error) = utils.UploadFileToGCS

type SendOrderEmailRequest struct {
	Subject     string                   `json:"subject" validate:"required,max=255"`
	Html        string                   `json:"html" validate:"required"`
	Attachments []models.EmailAttachment `json:"attachments" validate:"max=10,dive"`
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, false
	}
	return uint(id), true
}

// EnqueueOrderEmailHandler queues a custom message to the customer of an order.
func EnqueueOrderEmailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
			return
		}
		var req SendOrderEmailRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := utils.ValidateStruct(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		for _, a := range req.Attachments {
			// only files that came through the upload endpoint
			if !strings.HasPrefix(a.ObjectName, attachmentPrefix) || strings.Contains(a.ObjectName, "..") {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown attachment " + a.ObjectName})
				return
			}
		}

		ctx := c.Request.Context()
		order, err := models.GetOrder(ctx, id)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if strings.TrimSpace(order.CustomerEmail) == "" {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "order has no customer email"})
			return
		}

		body, err := RenderCustomMessage(*order, req.Html)
		if err != nil {
			config.LogError(config.GetLogger(), "mailer", "EnqueueOrderEmailHandler", "render", order.OrderId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot render email"})
			return
		}
		email := models.EmailOutbox{
			OrderId:     order.OrderId,
			ToEmail:     order.CustomerEmail,
			ToName:      order.CustomerName,
			Subject:     strings.TrimSpace(req.Subject),
			HtmlBody:    body,
			Attachments: req.Attachments,
		}
		if err := models.EnqueueEmail(config.GetDB().WithContext(ctx), &email); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, email)
	}
}

func ListOrderEmailsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
			return
		}
		ctx := c.Request.Context()
		order, err := models.GetOrder(ctx, id)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		emails, err := models.ListEmailsForOrder(ctx, order.OrderId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": emails})
	}
}

func ReplayEmailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email id"})
			return
		}
		email, err := models.ReplayEmail(c.Request.Context(), id)
		switch {
		case errors.Is(err, utils.ErrorRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "email not found"})
		case errors.Is(err, models.ErrEmailNotReplayable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, email)
		}
	}
}

// UploadAttachmentHandler stores a ticket file from the multipart field "file".
// The response is ready to drop into an email's attachments list.
func UploadAttachmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, utils.MaxAttachmentBytes+(1<<20))
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if fileHeader.Size > utils.MaxAttachmentBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		f, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
			return
		}
		defer f.Close()

		data, err := io.ReadAll(io.LimitReader(f, utils.MaxAttachmentBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
			return
		}
		mimeType, err := utils.DetectAttachmentType(fileHeader.Filename, data)
		if err != nil {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
			return
		}
		if data, err = ShrinkImage(data, mimeType); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		objectName := AttachmentObjectName(fileHeader.Filename, mimeType)
		storedType, err := uploadFile(c.Request.Context(), objectName, bytes.NewReader(data))
		if err != nil {
			config.LogError(config.GetLogger(), "mailer", "UploadAttachmentHandler", "upload", objectName, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "upload failed"})
			return
		}
		c.JSON(http.StatusCreated, models.EmailAttachment{
			ObjectName: objectName,
			Filename:   fileHeader.Filename,
			MimeType:   storedType,
		})
	}
}
