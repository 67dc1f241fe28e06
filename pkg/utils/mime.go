package utils

import (
	"net/http"
	"os"
	"strings"
)

// Content types for the image extensions TikTok's photo upload accepts.
var imageContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// ImageContentType maps a lowercase file extension to its upload content
// type. Unknown extensions fall back to sniffing the file on disk, and
// finally to application/octet-stream.
func ImageContentType(path string) string {
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		if ct, ok := imageContentTypes[strings.ToLower(path[idx:])]; ok {
			return ct
		}
	}
	return DetectFileMime(path)
}

// DetectFileMime analyzes a file on disk to determine its MIME type.
// It returns "application/octet-stream" if identification fails.
func DetectFileMime(filePath string) string {
	mimeType := "application/octet-stream"
	if f, err := os.Open(filePath); err == nil {
		defer f.Close()
		buffer := make([]byte, 512)
		if n, err := f.Read(buffer); err == nil && n > 0 {
			mimeType = http.DetectContentType(buffer[:n])
		}
	}
	return mimeType
}
