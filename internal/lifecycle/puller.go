package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pressly/ephemeral/pkg/dockermanage"
)

// PullPolicy decides when the puller contacts the registry.
type PullPolicy string

const (
	// PullAlways pulls on every run.
	PullAlways PullPolicy = "always"
	// PullMissing pulls only when the image is not present locally. It needs a runtime that can
	// inspect images; otherwise it behaves like PullAlways.
	PullMissing PullPolicy = "missing"
)

// ParsePullPolicy validates s as a PullPolicy. The empty string is PullAlways.
func ParsePullPolicy(s string) (PullPolicy, error) {
	switch p := PullPolicy(s); p {
	case "":
		return PullAlways, nil
	case PullAlways, PullMissing:
		return p, nil
	default:
		return "", fmt.Errorf("unknown pull policy %q: must be %q or %q", s, PullAlways, PullMissing)
	}
}

// ImageFinder is implemented by runtimes that can check for a local image.
type ImageFinder interface {
	HasImage(ctx context.Context, image string) (bool, error)
}

// ImagePuller makes an image available locally before a container is started.
type ImagePuller struct {
	runtime dockermanage.Runtime
	policy  PullPolicy
	logger  *slog.Logger
}

// NewImagePuller returns an ImagePuller using runtime.
func NewImagePuller(runtime dockermanage.Runtime, policy PullPolicy, logger *slog.Logger) *ImagePuller {
	if policy == "" {
		policy = PullAlways
	}
	return &ImagePuller{
		runtime: runtime,
		policy:  policy,
		logger:  logger.With(slog.String("logger", "puller")),
	}
}

// Ensure blocks until image is present locally or the pull failed.
func (p *ImagePuller) Ensure(ctx context.Context, image string) error {
	if p.policy == PullMissing {
		if finder, ok := p.runtime.(ImageFinder); ok {
			present, err := finder.HasImage(ctx, image)
			switch {
			case err != nil:
				p.logger.Debug("image lookup failed, pulling", slog.String("image", image), slog.Any("error", err))
			case present:
				p.logger.Debug("image present, skipping pull", slog.String("image", image))
				return nil
			}
		}
	}
	if err := p.runtime.Pull(ctx, image); err != nil {
		return err
	}
	return nil
}
