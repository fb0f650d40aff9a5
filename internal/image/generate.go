package image

import (
	"context"
	"encoding/json"

	"github.com/sashabaranov/go-openai"
)

// Fixed request parameters sent with every generation.
const (
	Model = "stable-diffusion-v1-5/stable-diffusion-v1-5"
	Count = 1
	Size  = openai.CreateImageSize512x512
)

// Response is a decoded generation along with the body exactly as the
// gateway sent it.
type Response struct {
	openai.ImageResponse
	Raw json.RawMessage `json:"-"`
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (Response, error)
}

// Request builds the outgoing request for prompt. Only the prompt varies.
func Request(prompt string) openai.ImageRequest {
	return openai.ImageRequest{
		Prompt: prompt,
		Model:  Model,
		N:      Count,
		Size:   Size,
	}
}
