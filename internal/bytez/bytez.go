// Package bytez is a client for the Bytez hosted model API. Runs return a
// URL to the generated artifact.
package bytez

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmorgan81/imagegateway/internal/log"
	"github.com/dmorgan81/imagegateway/internal/upstream"
	"github.com/samber/do"
	"github.com/samber/lo"
	"github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL = "https://api.bytez.com/models/v2"

	TaskTextToSpeech = "text-to-speech"
	TaskTextToImage  = "text-to-image"

	ownedBy = "bytez"
)

var ErrNoOutput = errors.New("no output URL returned from Bytez")

type runResponse struct {
	Error  any    `json:"error"`
	Output string `json:"output"`
}

type listedModel struct {
	ModelID string `json:"modelId"`
}

type listResponse struct {
	Error  any           `json:"error"`
	Output []listedModel `json:"output"`
}

// Audio is a generated speech stream. The caller closes Body.
type Audio struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

type Client struct {
	client  *http.Client
	baseURL string
	key     string
	now     func() time.Time
}

func NewClient(i *do.Injector) (*Client, error) {
	return New(
		do.MustInvoke[*http.Client](i),
		do.MustInvokeNamed[string](i, "bytez_base_url"),
		do.MustInvokeNamed[string](i, "bytez_api_key"),
	), nil
}

// New returns a client. key is only used for model listings; runs use the
// caller's key.
func New(client *http.Client, baseURL, key string) *Client {
	return &Client{
		client:  client,
		baseURL: strings.TrimRight(lo.Ternary(baseURL != "", baseURL, DefaultBaseURL), "/"),
		key:     key,
		now:     time.Now,
	}
}

func authorization(key string) string {
	return "Bearer " + upstream.BearerToken(key)
}

func (c *Client) run(ctx context.Context, key, model, text string) (string, error) {
	var out runResponse
	err := upstream.DoJSON(ctx, c.client, upstream.Request{
		Method: http.MethodPost,
		URL:    c.baseURL + "/" + strings.TrimLeft(model, "/"),
		Header: http.Header{"Authorization": {authorization(key)}},
		Body:   map[string]string{"text": text},
	}, &out)
	if err != nil {
		return "", fmt.Errorf("Bytez API error: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("Bytez API error: %v", out.Error)
	}
	if out.Output == "" {
		return "", ErrNoOutput
	}
	return out.Output, nil
}

// Speech runs a text-to-speech model and opens the resulting audio.
func (c *Client) Speech(ctx context.Context, key, model, text string) (Audio, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("bytez").With("model", model)
	log.Info("generating speech")

	output, err := c.run(ctx, key, model, text)
	if err != nil {
		return Audio{}, err
	}
	log.Info("fetching speech output", "output", output)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, output, nil)
	if err != nil {
		return Audio{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Audio{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return Audio{}, fmt.Errorf("failed to fetch audio stream from Bytez output URL: %s", resp.Status)
	}

	return Audio{
		Body:          resp.Body,
		ContentType:   lo.Ternary(resp.Header.Get("Content-Type") != "", resp.Header.Get("Content-Type"), "audio/mpeg"),
		ContentLength: resp.ContentLength,
	}, nil
}

// Image runs a text-to-image model and returns the output URL in an OpenAI
// style image response.
func (c *Client) Image(ctx context.Context, key, model, prompt string) (openai.ImageResponse, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("bytez").With("model", model)
	log.Info("generating image")

	output, err := c.run(ctx, key, model, prompt)
	if err != nil {
		return openai.ImageResponse{}, err
	}

	return openai.ImageResponse{
		Created: c.now().Unix(),
		Data:    []openai.ImageResponseDataInner{{URL: output, RevisedPrompt: prompt}},
	}, nil
}

// Models lists the models Bytez serves for task.
func (c *Client) Models(ctx context.Context, task string) ([]upstream.Model, error) {
	log.FromContextOrDiscard(ctx).WithGroup("bytez").Info("listing models", "task", task)

	header := http.Header{}
	if c.key != "" {
		header.Set("Authorization", authorization(c.key))
	}

	var out listResponse
	err := upstream.DoJSON(ctx, c.client, upstream.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/list/models?task=" + url.QueryEscape(task),
		Header: header,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, fmt.Errorf("failed to fetch models from Bytez: %v", out.Error)
	}

	created := c.now().Unix()
	return lo.Map(out.Output, func(m listedModel, _ int) upstream.Model {
		return upstream.Model{
			ID:         m.ModelID,
			Object:     "model",
			Created:    created,
			OwnedBy:    ownedBy,
			Permission: []any{},
			Root:       m.ModelID,
		}
	}), nil
}
