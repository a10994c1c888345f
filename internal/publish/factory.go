package publish

import (
	"context"
	"fmt"

	"gitchat/internal/chat"
	"gitchat/internal/config"
)

// NewPublisherFromConfig selects the publisher for the configured type.
// "git" reuses the repository's own remote (it commits and pushes the
// published path); "none" disables publishing and returns nil.
func NewPublisherFromConfig(ctx context.Context, cfg config.PublishConfig, repoRoot string, gitPublisher chat.Publisher, logger chat.Logger) (chat.Publisher, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "git":
		if gitPublisher == nil {
			return nil, fmt.Errorf("git publisher requires sync to be enabled")
		}
		return gitPublisher, nil
	case "s3":
		return NewS3Publisher(ctx, cfg, repoRoot, logger)
	default:
		return nil, fmt.Errorf("unknown publish type: %s", cfg.Type)
	}
}
