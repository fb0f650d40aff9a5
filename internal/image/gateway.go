package image

import (
	"context"
	"net/http"

	"github.com/dmorgan81/imagegateway/internal/log"
	"github.com/samber/do"
	"github.com/sashabaranov/go-openai"
)

// GatewayGenerator issues image generations against an OpenAI compatible
// gateway. The underlying client is built once and reused.
type GatewayGenerator struct {
	client *openai.Client
}

func NewGatewayGenerator(i *do.Injector) (Generator, error) {
	baseURL := do.MustInvokeNamed[string](i, "gateway_base_url")
	key := do.MustInvokeNamed[string](i, "gateway_api_key")
	client := do.MustInvoke[*http.Client](i)
	return NewGateway(baseURL, key, client), nil
}

func NewGateway(baseURL, key string, client *http.Client) *GatewayGenerator {
	httpClient := http.Client{}
	if client != nil {
		httpClient = *client
	}
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	httpClient.Transport = &recordingTransport{base: base}

	config := openai.DefaultConfig(key)
	config.BaseURL = baseURL
	config.HTTPClient = &httpClient
	return &GatewayGenerator{client: openai.NewClientWithConfig(config)}
}

// Generate sends one request and returns the gateway's response as is.
// Errors from the client are returned without wrapping.
func (g *GatewayGenerator) Generate(ctx context.Context, prompt string) (Response, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("gateway").With("prompt", prompt, "model", Model, "size", Size)
	log.Info("generating image")

	ex := &exchange{prompt: prompt}
	resp, err := g.client.CreateImage(context.WithValue(ctx, exchangeKey{}, ex), Request(prompt))
	if err != nil {
		log.Error("image generation failed", "error", err)
		return Response{ImageResponse: resp, Raw: ex.raw}, err
	}

	log.Info("received image response", "created", resp.Created, "images", len(resp.Data))
	return Response{ImageResponse: resp, Raw: ex.raw}, nil
}
