package pipeline

import (
	"context"

	"github.com/fpang/ai-storybook-studio/internal/assets"
	"github.com/fpang/ai-storybook-studio/internal/bookgen"
)

// GeminiIllustrator adapts the bookgen REST image client to the Illustrator
// interface.
type GeminiIllustrator struct {
	Client *bookgen.ImageClient
}

var _ Illustrator = (*GeminiIllustrator)(nil)

func (g *GeminiIllustrator) Illustration(ctx context.Context, scenePrompt, characterContext string) (Image, error) {
	result, err := g.Client.GenerateIllustration(ctx, scenePrompt, characterContext)
	if err != nil {
		return Image{}, err
	}
	return Image{Data: result.Data, MIMEType: result.MIMEType}, nil
}

func (g *GeminiIllustrator) Cover(ctx context.Context, req assets.CoverRequest, characterContext string) (Image, error) {
	result, err := g.Client.GenerateCover(ctx, req, characterContext)
	if err != nil {
		return Image{}, err
	}
	return Image{Data: result.Data, MIMEType: result.MIMEType}, nil
}
