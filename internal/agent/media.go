package agent

import (
	"bytes"
	"encoding/base64"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/gema-dev/gema/internal/providers"
)

// maxImageEdge bounds the longest side before base64 embedding. Vision
// models downsample anyway; shipping full-resolution photos just burns
// tokens.
const maxImageEdge = 1568

// loadImages reads inbound image attachments, downscales oversized ones,
// and returns base64 payloads for the provider. Non-images and unreadable
// files are skipped with a warning.
func loadImages(paths []string) []providers.ImageContent {
	var images []providers.ImageContent
	for _, p := range paths {
		if inferImageMime(p) == "" {
			continue
		}
		img, err := imaging.Open(p, imaging.AutoOrientation(true))
		if err != nil {
			slog.Warn("vision: failed to open image", "path", p, "error", err)
			continue
		}

		bounds := img.Bounds()
		if bounds.Dx() > maxImageEdge || bounds.Dy() > maxImageEdge {
			img = imaging.Fit(img, maxImageEdge, maxImageEdge, imaging.Lanczos)
		}

		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
			slog.Warn("vision: failed to encode image", "path", p, "error", err)
			continue
		}

		images = append(images, providers.ImageContent{
			MimeType: "image/jpeg",
			Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
		})
	}
	return images
}

// inferImageMime returns the MIME type for supported image extensions,
// or "" for anything else.
func inferImageMime(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}
