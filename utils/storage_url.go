package utils

import (
	"net/url"
	"os"
	"strings"
)

// BuildObjectAccessURL turns an object key into the URL stored on document
// rows. STORAGE_ACCESS_BASE_URL overrides the default public GCS form when
// attachments are served through a proxy or CDN.
func BuildObjectAccessURL(objectKey string) string {
	base := strings.TrimSpace(os.Getenv("STORAGE_ACCESS_BASE_URL"))
	if base != "" {
		return strings.TrimRight(base, "/") + "/" + objectKey
	}

	bucket := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	if bucket != "" {
		return "https://storage.googleapis.com/" + bucket + "/" + objectKey
	}

	return objectKey
}

// ExtractObjectKeyFromURL recovers the object key from whatever form a
// document URL was stored in: a raw key, gs://, the public GCS hosts, or
// the STORAGE_ACCESS_BASE_URL prefix. Returns "" for URLs outside our
// storage, which callers treat as an external link.
func ExtractObjectKeyFromURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	// Raw object keys pass through (e.g. "orgId/documents/scan.pdf"), so
	// delete flows keep working when BuildObjectAccessURL had no envs to
	// build a real URL from. Path traversal is rejected outright.
	if !strings.Contains(rawURL, "://") && !strings.HasPrefix(rawURL, "/") && strings.Contains(rawURL, "/") {
		if strings.Contains(rawURL, "..") {
			return ""
		}
		return rawURL
	}

	if strings.HasPrefix(rawURL, "gs://") {
		parts := strings.SplitN(strings.TrimPrefix(rawURL, "gs://"), "/", 2)
		if len(parts) == 2 {
			return parts[1]
		}
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err == nil {
		// - https://storage.googleapis.com/<bucket>/<objectKey>
		// - https://<bucket>.storage.googleapis.com/<objectKey>
		// - https://storage.cloud.google.com/<bucket>/<objectKey>
		host := strings.ToLower(strings.TrimSpace(parsed.Host))
		p := strings.TrimPrefix(parsed.Path, "/")
		if host == "storage.googleapis.com" || host == "storage.cloud.google.com" {
			parts := strings.SplitN(p, "/", 2)
			if len(parts) == 2 && parts[1] != "" {
				return parts[1]
			}
		}
		if strings.HasSuffix(host, ".storage.googleapis.com") {
			// bucket is in the host; the object key is the full path
			if p != "" {
				return p
			}
		}
	}

	base := strings.TrimSpace(os.Getenv("STORAGE_ACCESS_BASE_URL"))
	if base != "" {
		prefix := strings.TrimRight(base, "/") + "/"
		if strings.HasPrefix(rawURL, prefix) {
			return strings.TrimPrefix(rawURL, prefix)
		}
	}

	return ""
}
