package utils

import (
	"context"
	"errors"
	"fmt"
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

// PromoteAssetToPublicBucket copies a rendered asset from the staging bucket
// to the public catalog bucket. The staging object is left in place; staging
// cleanup runs on a lifecycle rule.
func PromoteAssetToPublicBucket(ctx context.Context, objectName string) error {
	if objectName == "" {
		return errors.New("objectName is required")
	}
	stagingBucket := os.Getenv("GCS_STAGING_BUCKET")
	publicBucket := os.Getenv("GCS_PUBLIC_BUCKET")
	if stagingBucket == "" || publicBucket == "" {
		return errors.New("GCS_STAGING_BUCKET and GCS_PUBLIC_BUCKET are required")
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	src := client.Bucket(stagingBucket).Object(objectName)
	dst := client.Bucket(publicBucket).Object(objectName)

	copier := dst.CopierFrom(src)
	copier.Metadata = map[string]string{
		"x-goog-acl": "public-read",
	}
	if _, err := copier.Run(ctx); err != nil {
		return fmt.Errorf("copy %s to %s: %w", objectName, publicBucket, err)
	}
	return nil
}

// UploadBytesToGCS writes raw bytes to the staging bucket, used for
// server-generated derivatives such as thumbnails.
func UploadBytesToGCS(ctx context.Context, objectName string, data []byte, contentType string) error {
	stagingBucket := os.Getenv("GCS_STAGING_BUCKET")
	if stagingBucket == "" {
		return errors.New("GCS_STAGING_BUCKET is required")
	}
	client, err := getGoogleClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	wc := client.Bucket(stagingBucket).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		return err
	}
	return wc.Close()
}

// ObjectExistsInStaging reports whether the rendered asset is present in the
// staging bucket.
func ObjectExistsInStaging(ctx context.Context, objectName string) (bool, error) {
	stagingBucket := os.Getenv("GCS_STAGING_BUCKET")
	if stagingBucket == "" {
		return false, errors.New("GCS_STAGING_BUCKET is required")
	}
	client, err := getGoogleClient(ctx)
	if err != nil {
		return false, err
	}
	defer client.Close()

	_, err = client.Bucket(stagingBucket).Object(objectName).Attrs(ctx)
	if err == storage.ErrObjectNotExist {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
