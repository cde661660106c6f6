package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

var (
	ErrDisabled = errors.New("image generation disabled")
	ErrEmpty    = errors.New("model returned no usable content")
)

// Generator produces renderer assets. Both calls are best effort.
type Generator interface {
	GenerateIcon(ctx context.Context, label string) (string, error)
	GenerateSceneImage(ctx context.Context, description string) (string, error)
}

type Gemini struct {
	client     *genai.Client
	iconModel  string
	imageModel string
}

func NewGemini(ctx context.Context, apiKey, iconModel, imageModel string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, iconModel: iconModel, imageModel: imageModel}, nil
}

// GenerateIcon returns raw SVG markup for label.
func (g *Gemini) GenerateIcon(ctx context.Context, label string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.iconModel, genai.Text(iconPrompt(label)), nil)
	if err != nil {
		return "", fmt.Errorf("generate icon: %w", err)
	}
	var b strings.Builder
	for _, part := range firstParts(resp) {
		b.WriteString(part.Text)
	}
	svg := CleanSVG(b.String())
	if svg == "" {
		return "", ErrEmpty
	}
	return svg, nil
}

// GenerateSceneImage returns a data URI for the first inline image part.
func (g *Gemini) GenerateSceneImage(ctx context.Context, description string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.imageModel, genai.Text(scenePrompt(description)), nil)
	if err != nil {
		return "", fmt.Errorf("generate scene image: %w", err)
	}
	for _, part := range firstParts(resp) {
		if part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		mime := part.InlineData.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(part.InlineData.Data), nil
	}
	return "", ErrEmpty
}

func firstParts(resp *genai.GenerateContentResponse) []*genai.Part {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	return resp.Candidates[0].Content.Parts
}

var fenceReplacer = strings.NewReplacer("```xml", "", "```svg", "", "```", "")

// CleanSVG strips markdown fences a model may wrap around markup.
func CleanSVG(s string) string {
	return strings.TrimSpace(fenceReplacer.Replace(s))
}

func iconPrompt(label string) string {
	return `Generate a simple, bold, retro, thick-lined cartoon SVG icon for: ` + label + `.
- viewBox="0 0 100 100"
- No background (transparent).
- Use distinct, bright colors suitable for a retro game.
- Return ONLY the raw <svg>...</svg> string. No markdown code fences.`
}

func scenePrompt(items string) string {
	return `POV shot from outside a drive-thru service window looking INTO the restaurant kitchen.
Do not show the window itself, show what's inside the window!
Through the open window, we see a stainless steel counter holding a tray with this food: ` + items + `.
The background shows a retro 90s fast food kitchen interior with tiled walls and warm, dim lighting.
The style should be retro, slightly low-fidelity, cinematic lighting, neon glow, pixelated retro aesthetic.
The food should look greasy and delicious but stylized.`
}

// Disabled is used when no API key is configured.
type Disabled struct{}

func (Disabled) GenerateIcon(context.Context, string) (string, error) {
	return "", ErrDisabled
}

func (Disabled) GenerateSceneImage(context.Context, string) (string, error) {
	return "", ErrDisabled
}
