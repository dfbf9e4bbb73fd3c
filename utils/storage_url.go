package utils

import (
	"net/url"
	"os"
	"strings"
)

// BuildObjectAccessURL returns the URL clients use to read a staged asset.
// STORAGE_ACCESS_BASE_URL may contain an {objectKey} placeholder for CDN
// style routing; otherwise the key is appended.
func BuildObjectAccessURL(objectKey string) string {
	base := strings.TrimSpace(os.Getenv("STORAGE_ACCESS_BASE_URL"))
	if base != "" {
		if strings.Contains(base, "{objectKey}") {
			escaped := objectKey
			if strings.Contains(base, "?") {
				escaped = url.QueryEscape(objectKey)
			}
			return strings.ReplaceAll(base, "{objectKey}", escaped)
		}
		if strings.Contains(base, "?") {
			return base + url.QueryEscape(objectKey)
		}
		return strings.TrimRight(base, "/") + "/" + objectKey
	}

	gcsURL := strings.TrimSpace(os.Getenv("GCS_URL"))
	bucket := strings.TrimSpace(os.Getenv("GCS_STAGING_BUCKET"))
	if gcsURL != "" && bucket != "" {
		return "https://" + gcsURL + "/" + bucket + "/" + objectKey
	}

	return objectKey
}
