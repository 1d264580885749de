package provider

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/seo-pipeline/pkg/anthropic"
)

type anthropicBackend struct {
	client anthropic.Client
}

func (b *anthropicBackend) complete(ctx context.Context, req completion) (*reply, error) {
	user := req.User
	if req.JSON {
		user += "\n\nAnswer with JSON only."
	}
	resp, err := b.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:    req.Model,
		System:   req.System,
		Messages: []anthropic.Message{{Role: "user", Content: user}},
	})
	if err != nil {
		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) {
			return nil, upstreamError(KindAnthropic, apiErr.StatusCode, apiErr.Message)
		}
		return nil, eris.Wrap(err, "anthropic")
	}
	return &reply{
		Text:             resp.Text(),
		Model:            resp.Model,
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}, nil
}

func (b *anthropicBackend) image(context.Context, imageRequest) (*imageReply, error) {
	return nil, eris.Wrap(ErrUnsupported, "anthropic: image generation")
}
