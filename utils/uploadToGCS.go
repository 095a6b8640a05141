package utils

import (
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

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
	// If you need to provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		client, err := storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// GetGCSClient exposes the shared Google Cloud Storage client.
func GetGCSClient(ctx context.Context) (*storage.Client, error) {
	return getGoogleClient(ctx)
}

func gcsBucketName() (string, error) {
	bucketName := os.Getenv("GCS_BUCKET")
	if bucketName == "" {
		return "", errors.New("GCS_BUCKET is required")
	}
	return bucketName, nil
}

// document scans attached to sales/purchases: appraisal slips, supplier
// receipts, signed delivery notes
var allowedDocumentMimeTypes = map[string]bool{
	"application/pdf":          true,
	"application/msword":       true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
	"image/jpeg": true,
	"image/png":  true,
}

// IsAllowedDocumentMimeType reports whether we accept uploads of this type,
// for callers that validate before the bytes exist (signed uploads).
func IsAllowedDocumentMimeType(mimeType string) bool {
	return allowedDocumentMimeTypes[mimeType]
}

// UploadDocumentToGCS stores an attachment and returns its detected MIME type
// and size. Content sniffing decides the type; .docx/.xlsx zip containers are
// special-cased the way browsers report them.
func UploadDocumentToGCS(ctx context.Context, objectName string, fileContent io.Reader) (string, int64, error) {
	fileData, err := io.ReadAll(fileContent)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read file content: %v", err)
	}

	mimeType := http.DetectContentType(fileData)
	if mimeType == "application/zip" {
		if strings.HasSuffix(objectName, ".docx") {
			mimeType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
		} else if strings.HasSuffix(objectName, ".xlsx") {
			mimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		}
	}

	if !allowedDocumentMimeTypes[mimeType] {
		return "", 0, NewValidationErrorf("unsupported file type: %s", mimeType)
	}

	bucketName, err := gcsBucketName()
	if err != nil {
		return "", 0, err
	}
	client, err := getGoogleClient(ctx)
	if err != nil {
		return "", 0, err
	}
	defer client.Close()

	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = mimeType
	if _, err := wc.Write(fileData); err != nil {
		return "", 0, err
	}
	if err := wc.Close(); err != nil {
		return "", 0, err
	}
	return mimeType, int64(len(fileData)), nil
}

func DeleteObjectFromGCS(ctx context.Context, objectName string) error {
	bucketName, err := gcsBucketName()
	if err != nil {
		return err
	}
	client, err := getGoogleClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Bucket(bucketName).Object(objectName).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// CheckDocumentExistInGCS verifies that a previously uploaded attachment URL
// still points at a real object before it gets linked to a record. URLs
// outside our bucket fall back to a HEAD probe.
func CheckDocumentExistInGCS(fileURL string) error {
	if objectKey := ExtractObjectKeyFromURL(fileURL); objectKey != "" {
		ok, err := ObjectExistsInGCS(context.Background(), objectKey)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		return errors.New("document does not exist")
	}

	resp, err := http.Head(fileURL)
	if err != nil {
		return errors.New("invalid document url")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	return errors.New("document does not exist")
}

func ObjectExistsInGCS(ctx context.Context, objectName string) (bool, error) {
	bucketName, err := gcsBucketName()
	if err != nil {
		return false, err
	}
	client, err := getGoogleClient(ctx)
	if err != nil {
		return false, err
	}
	defer client.Close()

	_, err = client.Bucket(bucketName).Object(objectName).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
