package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"

	"github.com/sells-group/seo-pipeline/internal/model"
)

// geminiModels is the subset of *genai.Models the backend calls.
type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateImages(ctx context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
}

type geminiBackend struct {
	models geminiModels
}

// isPredictImageModel reports whether modelID uses the predict-style image
// endpoint rather than multimodal content generation.
func isPredictImageModel(modelID string) bool {
	return strings.HasPrefix(strings.ToLower(modelID), "imagen")
}

func joinPrompts(system, user string) string {
	switch {
	case system == "":
		return user
	case user == "":
		return system
	default:
		return system + "\n\n" + user
	}
}

func (b *geminiBackend) complete(ctx context.Context, req completion) (*reply, error) {
	cfg := &genai.GenerateContentConfig{}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	resp, err := b.models.GenerateContent(ctx, req.Model,
		[]*genai.Content{genai.NewContentFromText(joinPrompts(req.System, req.User), genai.RoleUser)},
		cfg,
	)
	if err != nil {
		return nil, mapGeminiError(err)
	}

	out := &reply{Text: stripFences(responseText(resp)), Model: resp.ModelVersion}
	if u := resp.UsageMetadata; u != nil {
		out.PromptTokens = int(u.PromptTokenCount)
		out.CompletionTokens = int(u.CandidatesTokenCount)
		out.TotalTokens = int(u.TotalTokenCount)
	}
	return out, nil
}

func (b *geminiBackend) image(ctx context.Context, req imageRequest) (*imageReply, error) {
	w, h := req.Size.Dimensions()
	if isPredictImageModel(req.Model) {
		resp, err := b.models.GenerateImages(ctx, req.Model, req.Prompt, &genai.GenerateImagesConfig{
			NumberOfImages: 1,
			AspectRatio:    req.Size.AspectRatio(),
		})
		if err != nil {
			return nil, mapGeminiError(err)
		}
		out := &imageReply{}
		for _, gi := range resp.GeneratedImages {
			if gi == nil || gi.Image == nil || len(gi.Image.ImageBytes) == 0 {
				continue
			}
			out.Image = model.GeneratedImage{Data: gi.Image.ImageBytes, MIMEType: gi.Image.MIMEType, Width: w, Height: h}
			break
		}
		return out, nil
	}

	resp, err := b.models.GenerateContent(ctx, req.Model,
		[]*genai.Content{genai.NewContentFromText(joinPrompts(req.System, req.Prompt), genai.RoleUser)},
		&genai.GenerateContentConfig{ResponseModalities: []string{"TEXT", "IMAGE"}},
	)
	if err != nil {
		return nil, mapGeminiError(err)
	}
	out := &imageReply{reply: reply{Text: responseText(resp), Model: resp.ModelVersion}}
	if u := resp.UsageMetadata; u != nil {
		out.PromptTokens = int(u.PromptTokenCount)
		out.CompletionTokens = int(u.CandidatesTokenCount)
		out.TotalTokens = int(u.TotalTokenCount)
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
				out.Image = model.GeneratedImage{Data: p.InlineData.Data, MIMEType: p.InlineData.MIMEType, Width: w, Height: h}
				return out, nil
			}
		}
	}
	return out, nil
}

// responseText concatenates the non-thought text parts of the first
// candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil && !p.Thought {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

func mapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return upstreamError(KindGemini, apiErr.Code, apiErr.Message)
	}
	return eris.Wrap(err, "gemini")
}
