package platforms

import (
	"context"

	"github.com/samvad-hq/samvad-notifier/internal/domain"
	"github.com/samvad-hq/samvad-notifier/pkg/httpclient"
)

// Adapter is the capability surface of one platform. Implementations hold no
// state shared with other platforms.
type Adapter interface {
	Meta() Meta
	// Fetch returns the posts currently visible for target, newest first.
	Fetch(ctx context.Context, target domain.Target) ([]domain.RawPost, error)
	// ResolveTargetName looks up the display name of target. It wraps
	// domain.ErrTargetResolution when the target does not exist.
	ResolveTargetName(ctx context.Context, target domain.Target) (string, error)
	// Parse turns a classified raw post into a dispatchable Post.
	Parse(ctx context.Context, target domain.Target, raw domain.RawPost, category domain.Category) (domain.Post, error)
}

// Builder constructs an Adapter for a platform entry of a given type.
type Builder func(cfg Platform, client HTTPClient) (Adapter, error)

// HTTPClient aliases the shared httpclient.Client interface for clarity within platforms.
type HTTPClient = httpclient.Client
