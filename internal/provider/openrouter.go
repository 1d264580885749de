package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/seo-pipeline/internal/model"
	"github.com/sells-group/seo-pipeline/pkg/openrouter"
)

// searchMarkers identify search-augmented models that reject response_format.
var searchMarkers = []string{":online", "perplexity/", "sonar"}

func supportsResponseFormat(modelID string) bool {
	lower := strings.ToLower(modelID)
	for _, m := range searchMarkers {
		if strings.Contains(lower, m) {
			return false
		}
	}
	return true
}

type openRouterBackend struct {
	client openrouter.Client
}

func (b *openRouterBackend) complete(ctx context.Context, req completion) (*reply, error) {
	body := openrouter.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openrouter.Message{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
	}
	if req.JSON && supportsResponseFormat(req.Model) {
		body.ResponseFormat = openrouter.JSONObject
	}

	resp, err := b.client.ChatCompletion(ctx, body)
	if err != nil {
		return nil, mapOpenRouterError(err)
	}
	return &reply{
		Text:             resp.Content(),
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

func (b *openRouterBackend) image(ctx context.Context, req imageRequest) (*imageReply, error) {
	w, h := req.Size.Dimensions()
	resp, err := b.client.ChatCompletion(ctx, openrouter.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openrouter.Message{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt + "\nAspect ratio: " + req.Size.AspectRatio()},
		},
		Modalities: []string{"image", "text"},
	})
	if err != nil {
		return nil, mapOpenRouterError(err)
	}

	out := &imageReply{reply: reply{
		Text:             resp.Content(),
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}}
	for _, choice := range resp.Choices {
		for _, img := range choice.Message.Images {
			data, mime, err := decodeDataURL(img.ImageURL.URL)
			if err != nil {
				continue
			}
			out.Image = model.GeneratedImage{Data: data, MIMEType: mime, Width: w, Height: h}
			return out, nil
		}
	}
	return out, nil
}

func mapOpenRouterError(err error) error {
	var se *openrouter.StatusError
	if errors.As(err, &se) {
		return upstreamError(KindOpenRouter, se.StatusCode, se.Body)
	}
	return eris.Wrap(err, "openrouter")
}

// decodeDataURL decodes "data:image/png;base64,...".
func decodeDataURL(u string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(u, "data:")
	if !ok {
		return nil, "", eris.New("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", eris.New("malformed data URL")
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return nil, "", eris.New("data URL is not base64")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", eris.Wrap(err, "decode data URL")
	}
	return data, mime, nil
}
