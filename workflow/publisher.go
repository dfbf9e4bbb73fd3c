package workflow

import (
	"context"

	"bitbucket.org/dressforpleasure/stylereview_backend/config"
	"bitbucket.org/dressforpleasure/stylereview_backend/utils"
)

// Publisher pushes one approved review to the storefront. Implementations
// must be safe for concurrent use; the dispatcher may retry the same record.
type Publisher interface {
	Publish(ctx context.Context, msg config.CatalogEventMessage) (publicationId string, err error)
}

// catalogPublisher promotes the rendered asset to the public bucket and emits
// the catalog event to Pub/Sub. The Pub/Sub message id doubles as the
// publication id recorded on the review.
type catalogPublisher struct{}

func NewCatalogPublisher() Publisher {
	return &catalogPublisher{}
}

func (p *catalogPublisher) Publish(ctx context.Context, msg config.CatalogEventMessage) (string, error) {
	if msg.AssetObject != "" {
		if err := utils.PromoteAssetToPublicBucket(ctx, msg.AssetObject); err != nil {
			return "", &utils.PublishError{ReviewId: msg.ReviewId, Err: err}
		}
	}
	id, err := config.PublishCatalogEventWithResult(ctx, msg)
	if err != nil {
		return "", &utils.PublishError{ReviewId: msg.ReviewId, Err: err}
	}
	return id, nil
}
