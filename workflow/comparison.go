package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bitbucket.org/dressforpleasure/stylereview_backend/config"
	"bitbucket.org/dressforpleasure/stylereview_backend/models"
	"github.com/disintegration/imaging"
	"github.com/shopspring/decimal"
)

const thumbnailSize = 300

// ComparisonSide is one half of the before/after view.
type ComparisonSide struct {
	Path          string `json:"path"`
	ThumbnailPath string `json:"thumbnail_path"`
}

type ComparisonView struct {
	ReviewId     string             `json:"review_id"`
	State        models.ReviewState `json:"state"`
	QualityScore decimal.Decimal    `json:"quality_score"`
	Original     ComparisonSide     `json:"original"`
	Generated    ComparisonSide     `json:"generated"`
}

// BuildComparisonView renders the reviewer's side-by-side view: the original
// item image next to the generated asset, each with a 300x300 thumbnail.
// Thumbnails are cached on disk; a missing source image leaves its side
// without a thumbnail rather than failing the view.
func (e *Engine) BuildComparisonView(ctx context.Context, reviewId string) (*ComparisonView, error) {
	review, err := e.store.GetReview(ctx, reviewId)
	if err != nil {
		return nil, err
	}

	view := &ComparisonView{
		ReviewId:     review.ID,
		State:        review.State,
		QualityScore: review.QualityScore,
	}

	view.Original.Path = imagePathFromSnapshot(review.SubjectData)
	view.Generated.Path = localAssetPath(review.AssetObject)

	if thumb, err := e.thumbnailFor(view.Original.Path); err == nil {
		view.Original.ThumbnailPath = thumb
	} else if view.Original.Path != "" {
		config.LogError(e.logger, "workflow", "BuildComparisonView", "original thumbnail", view.Original.Path, err)
	}
	if thumb, err := e.thumbnailFor(view.Generated.Path); err == nil {
		view.Generated.ThumbnailPath = thumb
	} else if view.Generated.Path != "" {
		config.LogError(e.logger, "workflow", "BuildComparisonView", "generated thumbnail", view.Generated.Path, err)
	}

	return view, nil
}

// imagePathFromSnapshot pulls the image path out of the opaque subject JSON.
// The generation pipeline writes {"image_path": "..."} alongside its own
// fields; anything else yields an empty path.
func imagePathFromSnapshot(snapshot string) string {
	if snapshot == "" {
		return ""
	}
	var data struct {
		ImagePath string `json:"image_path"`
	}
	if err := json.Unmarshal([]byte(snapshot), &data); err != nil {
		return ""
	}
	return data.ImagePath
}

func localAssetPath(assetObject string) string {
	if assetObject == "" {
		return ""
	}
	dir := os.Getenv("ASSET_LOCAL_DIR")
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, assetObject)
}

func (e *Engine) thumbnailFor(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("no source image")
	}
	thumbDir := os.Getenv("THUMBNAIL_DIR")
	if thumbDir == "" {
		thumbDir = filepath.Join(os.TempDir(), "review-thumbnails")
	}
	if err := os.MkdirAll(thumbDir, 0o755); err != nil {
		return "", err
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	dest := filepath.Join(thumbDir, base+"_thumb.jpg")
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	img, err := imaging.Open(path)
	if err != nil {
		return "", err
	}
	thumb := imaging.Thumbnail(img, thumbnailSize, thumbnailSize, imaging.Lanczos)
	if err := imaging.Save(thumb, dest, imaging.JPEGQuality(85)); err != nil {
		return "", err
	}
	return dest, nil
}
