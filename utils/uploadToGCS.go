package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// MaxAttachmentBytes caps uploads and the attachments pulled into emails.
const MaxAttachmentBytes = 10 << 20

var allowedAttachmentTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"text/calendar":   true,
}

// getGoogleClient initializes a Google Cloud Storage client.
// ADC is used unless GCS_CREDENTIALS_JSON is set.
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

func gcsBucket() (string, error) {
	bucketName := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	if bucketName == "" {
		return "", errors.New("GCS_BUCKET is required")
	}
	return bucketName, nil
}

// DetectAttachmentType sniffs data and rejects anything that is not a ticket-like document.
func DetectAttachmentType(objectName string, data []byte) (string, error) {
	mimeType := http.DetectContentType(data)
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "text/plain" && strings.HasSuffix(strings.ToLower(objectName), ".ics") {
		mimeType = "text/calendar"
	}
	if !allowedAttachmentTypes[mimeType] {
		return "", fmt.Errorf("unsupported file type: %s", mimeType)
	}
	return mimeType, nil
}

// UploadFileToGCS stores fileContent under objectName and returns the detected MIME type.
func UploadFileToGCS(ctx context.Context, objectName string, fileContent io.Reader) (string, error) {
	fileData, err := io.ReadAll(io.LimitReader(fileContent, MaxAttachmentBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read file content: %w", err)
	}
	if len(fileData) > MaxAttachmentBytes {
		return "", fmt.Errorf("file exceeds %d bytes", MaxAttachmentBytes)
	}
	mimeType, err := DetectAttachmentType(objectName, fileData)
	if err != nil {
		return "", err
	}

	bucketName, err := gcsBucket()
	if err != nil {
		return "", err
	}
	client, err := getGoogleClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = mimeType
	if _, err := io.Copy(wc, bytes.NewReader(fileData)); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("failed to upload file to Google Cloud Storage: %w", err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %w", err)
	}
	return mimeType, nil
}

// ReadFileFromGCS downloads objectName from the configured bucket.
func ReadFileFromGCS(ctx context.Context, objectName string) ([]byte, error) {
	bucketName, err := gcsBucket()
	if err != nil {
		return nil, err
	}
	client, err := getGoogleClient(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	rc, err := client.Bucket(bucketName).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", bucketName, objectName, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxAttachmentBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxAttachmentBytes {
		return nil, fmt.Errorf("gs://%s/%s exceeds %d bytes", bucketName, objectName, MaxAttachmentBytes)
	}
	return data, nil
}
