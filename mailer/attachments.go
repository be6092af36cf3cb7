package mailer

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// Phone photos of paper tickets are far larger than any mail client renders.
const maxImageWidth = 1600

// ShrinkImage re-encodes JPEG and PNG images wider than maxImageWidth.
// Anything else, and images that already fit, come back untouched.
func ShrinkImage(data []byte, mimeType string) ([]byte, error) {
	var format imaging.Format
	switch mimeType {
	case "image/jpeg":
		format = imaging.JPEG
	case "image/png":
		format = imaging.PNG
	default:
		return data, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if img.Bounds().Dx() <= maxImageWidth {
		return data, nil
	}
	resized := imaging.Resize(img, maxImageWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

const attachmentPrefix = "attachments/"

// AttachmentObjectName builds attachments/<uuid>/<name><ext> for an uploaded file.
func AttachmentObjectName(filename, mimeType string) string {
	base := strings.TrimSuffix(path.Base(strings.ReplaceAll(filename, "\\", "/")), path.Ext(filename))
	name := sanitizeSegment(strings.ToLower(base))
	if name == "" {
		name = "ticket"
	}
	return attachmentPrefix + uuid.NewString() + "/" + name + extensionFromMimeType(mimeType)
}

func sanitizeSegment(input string) string {
	var out strings.Builder
	for _, r := range input {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_':
			out.WriteRune(r)
		case r == ' ' || r == '.':
			out.WriteRune('-')
		}
	}
	return strings.Trim(out.String(), "-")
}

func extensionFromMimeType(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "application/pdf":
		return ".pdf"
	case "text/calendar":
		return ".ics"
	default:
		return ""
	}
}
