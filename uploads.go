package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"bitbucket.org/dressforpleasure/stylereview_backend/config"
	"bitbucket.org/dressforpleasure/stylereview_backend/models"
	"bitbucket.org/dressforpleasure/stylereview_backend/utils"
	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type uploadSignRequest struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Kind     string `json:"kind"`
}

type uploadCompleteRequest struct {
	ObjectKey string `json:"objectKey"`
}

type uploadSignResponse struct {
	UploadURL string            `json:"uploadUrl"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	ObjectKey string            `json:"objectKey"`
	AccessURL string            `json:"accessUrl"`
	ExpiresAt string            `json:"expiresAt"`
}

type uploadCompleteResponse struct {
	ImageURL           string `json:"imageUrl"`
	ThumbnailURL       string `json:"thumbnailUrl,omitempty"`
	ObjectKey          string `json:"objectKey"`
	ThumbnailObjectKey string `json:"thumbnailObjectKey,omitempty"`
}

const maxUploadSizeBytes int64 = 10 * 1024 * 1024

var imageMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// signUploadHandler issues a signed PUT URL into the staging bucket so the
// style pipeline can drop a generated asset there before submitting the
// review that references it.
func signUploadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		requestID := requestIDFromHeaders(c)

		if !requireSession(c) {
			return
		}

		var req uploadSignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		if req.FileName == "" || req.MimeType == "" || req.Size <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fileName, mimeType and size are required"})
			return
		}
		if req.Size > maxUploadSizeBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file size exceeds 10MB limit"})
			return
		}
		if !imageMimeTypes[req.MimeType] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported image type"})
			return
		}

		kind := "other"
		if parsed, err := models.ParseReviewKind(req.Kind); err == nil {
			kind = string(parsed)
		}

		ext := strings.ToLower(filepath.Ext(req.FileName))
		if ext == "" {
			ext = extensionFromMimeType(req.MimeType)
		}
		if ext == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file extension is required"})
			return
		}

		objectKey := path.Join("generated", kind, uuid.New().String()+ext)
		if utils.GetStorageProvider() != utils.StorageProviderGCS {
			c.JSON(http.StatusBadRequest, gin.H{"error": "storage provider not supported"})
			return
		}

		signed, err := utils.SignUpload(c.Request.Context(), objectKey, req.MimeType, 15*time.Minute)
		if err != nil {
			logUploadError(logger, err, utils.GetStorageProvider(), requestID)
			message := "failed to sign upload"
			if !strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
				message = fmt.Sprintf("failed to sign upload: %v", err)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": message})
			return
		}

		logger.WithFields(logrus.Fields{
			"kind":       kind,
			"mime_type":  req.MimeType,
			"size":       req.Size,
			"object_key": objectKey,
		}).Info("[upload.sign]")

		c.JSON(http.StatusOK, gin.H{
			"data": uploadSignResponse{
				UploadURL: signed.UploadURL,
				Method:    signed.Method,
				Headers:   signed.Headers,
				ObjectKey: signed.ObjectKey,
				AccessURL: signed.AccessURL,
				ExpiresAt: signed.ExpiresAt.UTC().Format(time.RFC3339),
			},
		})
	}
}

// completeUploadHandler verifies the staged object and generates the review
// console thumbnail next to it.
func completeUploadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		requestID := requestIDFromHeaders(c)

		if !requireSession(c) {
			return
		}

		var req uploadCompleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.ObjectKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "objectKey is required"})
			return
		}
		if !strings.HasPrefix(req.ObjectKey, "generated/") || strings.Contains(req.ObjectKey, "..") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid object key"})
			return
		}

		exists, err := utils.ObjectExistsInStaging(c.Request.Context(), req.ObjectKey)
		if err != nil {
			logUploadError(logger, err, utils.GetStorageProvider(), requestID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage client error"})
			return
		}
		if !exists {
			c.JSON(http.StatusBadRequest, gin.H{"error": "object has not been uploaded"})
			return
		}

		thumbnailKey, err := createStagedThumbnail(c.Request.Context(), req.ObjectKey)
		if err != nil {
			logUploadError(logger, err, utils.GetStorageProvider(), requestID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate thumbnail"})
			return
		}

		logger.WithFields(logrus.Fields{
			"object_key": req.ObjectKey,
			"status":     "completed",
		}).Info("[upload.complete]")

		c.JSON(http.StatusOK, gin.H{"data": uploadCompleteResponse{
			ImageURL:           utils.BuildObjectAccessURL(req.ObjectKey),
			ThumbnailURL:       utils.BuildObjectAccessURL(thumbnailKey),
			ObjectKey:          req.ObjectKey,
			ThumbnailObjectKey: thumbnailKey,
		}})
	}
}

// uploadObjectHandler streams a staged object to the review console.
func uploadObjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		objectKey := strings.TrimSpace(c.Query("key"))
		if objectKey == "" || strings.Contains(objectKey, "..") || strings.HasPrefix(objectKey, "/") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key"})
			return
		}

		if utils.GetStorageProvider() != utils.StorageProviderGCS {
			c.JSON(http.StatusBadRequest, gin.H{"error": "storage provider not supported"})
			return
		}

		client, err := utils.GetGCSClient(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage client error"})
			return
		}
		defer client.Close()

		bucket := strings.TrimSpace(os.Getenv("GCS_STAGING_BUCKET"))
		if bucket == "" {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "GCS_STAGING_BUCKET is required"})
			return
		}
		obj := client.Bucket(bucket).Object(objectKey)
		attrs, err := obj.Attrs(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
			return
		}
		reader, err := obj.NewReader(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
			return
		}
		defer reader.Close()

		if attrs != nil && attrs.ContentType != "" {
			c.Writer.Header().Set("Content-Type", attrs.ContentType)
		}
		if attrs != nil && attrs.Size > 0 {
			c.Writer.Header().Set("Content-Length", fmt.Sprintf("%d", attrs.Size))
		}
		c.Status(http.StatusOK)
		_, _ = io.Copy(c.Writer, reader)
	}
}

func createStagedThumbnail(ctx context.Context, objectKey string) (string, error) {
	client, err := utils.GetGCSClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	bucket := strings.TrimSpace(os.Getenv("GCS_STAGING_BUCKET"))
	if bucket == "" {
		return "", errors.New("GCS_STAGING_BUCKET is required")
	}

	reader, err := client.Bucket(bucket).Object(objectKey).NewReader(ctx)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, maxUploadSizeBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > maxUploadSizeBytes {
		return "", errors.New("file size exceeds 10MB limit")
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	thumbnail := imaging.Resize(img, 300, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumbnail, imaging.JPEG); err != nil {
		return "", err
	}

	thumbnailKey := thumbnailObjectKey(objectKey)
	if err := utils.UploadBytesToGCS(ctx, thumbnailKey, buf.Bytes(), "image/jpeg"); err != nil {
		return "", err
	}
	return thumbnailKey, nil
}

func thumbnailObjectKey(objectKey string) string {
	dir := path.Dir(objectKey)
	filename := path.Base(objectKey)
	return path.Join(dir, "thumbnails", filename)
}

func extensionFromMimeType(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}

func logUploadError(logger *logrus.Logger, err error, provider string, requestID string) {
	logger.WithFields(logrus.Fields{
		"error":      err.Error(),
		"provider":   provider,
		"request_id": requestID,
	}).Error("[upload.error]")
}

func requestIDFromHeaders(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader("X-Correlation-Id")); id != "" {
		return id
	}
	if id := strings.TrimSpace(c.GetHeader("X-Request-Id")); id != "" {
		return id
	}
	return fmt.Sprintf("upload-%d", time.Now().UnixNano())
}
