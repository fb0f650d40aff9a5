// Package horde is a client for the AI Horde crowdsourced image generation
// cluster. Requests are submitted asynchronously and polled until a worker
// has finished them.
package horde

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dmorgan81/imagegateway/internal/log"
	"github.com/dmorgan81/imagegateway/internal/upstream"
	"github.com/samber/do"
	"github.com/samber/lo"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBaseURL     = "https://stablehorde.net/api/v2"
	DefaultClientAgent = "imagegateway:1.0:admin"
	// PublicKey is the anonymous key. It works but is served last.
	PublicKey = "0000000000"

	DefaultPollInterval = 3 * time.Second
	DefaultMaxAttempts  = 60

	ownedBy = "AI Horde Workers"
)

var (
	ErrNotPossible = errors.New("AI Horde cannot fulfill this request (no matching workers)")
	ErrFaulted     = errors.New("AI Horde request faulted")
	ErrTimeout     = errors.New("request timed out or failed processing")
)

// fallbackModels are tried in order until a submission is accepted. The
// empty entry lets the horde pick any model.
var fallbackModels = [][]string{
	{"stable_diffusion"},
	{"stable_diffusion_2.1"},
	{"stable_diffusion_1.5"},
	{},
}

// Request is an OpenAI style generation request with the horde specific
// params and models passthroughs.
type Request struct {
	Prompt         string         `json:"prompt"`
	N              int            `json:"n,omitempty"`
	Size           string         `json:"size,omitempty"`
	ResponseFormat string         `json:"response_format,omitempty"`
	Params         map[string]any `json:"params,omitempty"`
	Models         []string       `json:"models,omitempty"`
}

type payload struct {
	Prompt     string         `json:"prompt"`
	Params     map[string]any `json:"params"`
	NSFW       bool           `json:"nsfw"`
	CensorNSFW bool           `json:"censor_nsfw"`
	Models     []string       `json:"models,omitempty"`
}

type submitResponse struct {
	ID      string  `json:"id"`
	Kudos   float64 `json:"kudos"`
	Message string  `json:"message"`
}

type Generation struct {
	Img      string `json:"img"`
	Seed     string `json:"seed"`
	WorkerID string `json:"worker_id"`
	Model    string `json:"model"`
}

type statusResponse struct {
	Done          bool         `json:"done"`
	Faulted       bool         `json:"faulted"`
	IsPossible    bool         `json:"is_possible"`
	WaitTime      int          `json:"wait_time"`
	QueuePosition int          `json:"queue_position"`
	Generations   []Generation `json:"generations"`
}

type modelStatus struct {
	Name   string  `json:"name"`
	Count  int     `json:"count"`
	Queued float64 `json:"queued"`
	ETA    int     `json:"eta"`
}

type Options struct {
	BaseURL      string
	ClientAgent  string
	PollInterval time.Duration
	MaxAttempts  int
}

type Client struct {
	client       *http.Client
	baseURL      string
	clientAgent  string
	pollInterval time.Duration
	maxAttempts  int
	now          func() time.Time
}

func NewClient(i *do.Injector) (*Client, error) {
	return New(do.MustInvoke[*http.Client](i), do.MustInvoke[Options](i)), nil
}

func New(client *http.Client, opts Options) *Client {
	return &Client{
		client:       client,
		baseURL:      strings.TrimRight(lo.Ternary(opts.BaseURL != "", opts.BaseURL, DefaultBaseURL), "/"),
		clientAgent:  lo.Ternary(opts.ClientAgent != "", opts.ClientAgent, DefaultClientAgent),
		pollInterval: lo.Ternary(opts.PollInterval > 0, opts.PollInterval, DefaultPollInterval),
		maxAttempts:  lo.Ternary(opts.MaxAttempts > 0, opts.MaxAttempts, DefaultMaxAttempts),
		now:          time.Now,
	}
}

// ResolveKey turns an Authorization or apikey header value into a horde key.
func ResolveKey(auth string) string {
	key := upstream.BearerToken(auth)
	return lo.Ternary(key == "", PublicKey, key)
}

func (c *Client) Generate(ctx context.Context, key string, req Request) (openai.ImageResponse, error) {
	key = ResolveKey(key)
	log := log.FromContextOrDiscard(ctx).WithGroup("horde")
	log.Info("generating image", "key", lo.Ternary(key == PublicKey, "public", "private"))

	id, err := c.submit(ctx, key, req)
	if err != nil {
		return openai.ImageResponse{}, err
	}
	log.Info("submitted generation", "id", id)

	generations, err := c.poll(ctx, id)
	if err != nil {
		return openai.ImageResponse{}, err
	}
	log.Info("generation finished", "id", id, "images", len(generations))

	resp := openai.ImageResponse{Created: c.now().Unix()}
	if req.ResponseFormat == openai.CreateImageResponseFormatURL {
		resp.Data = lo.Map(generations, func(g Generation, _ int) openai.ImageResponseDataInner {
			return openai.ImageResponseDataInner{URL: g.Img, RevisedPrompt: req.Prompt}
		})
		return resp, nil
	}

	resp.Data = make([]openai.ImageResponseDataInner, len(generations))
	group, gctx := errgroup.WithContext(ctx)
	for i, g := range generations {
		i, g := i, g
		group.Go(func() error {
			b64, err := c.encode(gctx, g.Img)
			if err != nil {
				return err
			}
			resp.Data[i] = openai.ImageResponseDataInner{B64JSON: b64, RevisedPrompt: req.Prompt}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return openai.ImageResponse{}, err
	}
	return resp, nil
}

func (c *Client) submit(ctx context.Context, key string, req Request) (string, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("horde")

	attempts := lo.Ternary(len(req.Models) > 0, [][]string{req.Models}, fallbackModels)
	var lastErr error
	for _, models := range attempts {
		var out submitResponse
		err := upstream.DoJSON(ctx, c.client, upstream.Request{
			Method: http.MethodPost,
			URL:    c.baseURL + "/generate/async",
			Header: http.Header{
				"apikey":       {key},
				"Client-Agent": {c.clientAgent},
			},
			Body: newPayload(req, models),
		}, &out)
		if err == nil && out.ID != "" {
			return out.ID, nil
		}
		if err == nil {
			err = errors.New(lo.Ternary(out.Message != "", out.Message, "AI Horde returned no request id"))
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = submitError(err)
		log.Warn("submission rejected", "models", models, "error", lastErr)
	}
	if lastErr == nil {
		lastErr = errors.New("failed to submit task to AI Horde with any model configuration")
	}
	return "", lastErr
}

// submitError prefers the horde's own message over the raw status.
func submitError(err error) error {
	var statusErr upstream.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal([]byte(statusErr.Body), &body) == nil && body.Message != "" {
		return fmt.Errorf("%s (%d)", body.Message, statusErr.StatusCode)
	}
	return fmt.Errorf("failed to submit task to AI Horde: %w", err)
}

func newPayload(req Request, models []string) payload {
	params := map[string]any{
		"sampler_name": "k_euler_a",
		"cfg_scale":    7.5,
		"steps":        30,
		"n":            lo.Ternary(req.N > 0, req.N, 1),
	}
	if req.Size == "" {
		params["width"], params["height"] = 512, 512
	} else if w, h, ok := ParseSize(req.Size); ok {
		params["width"], params["height"] = w, h
	}

	return payload{
		Prompt:     req.Prompt,
		Params:     lo.Assign(params, req.Params),
		NSFW:       true,
		CensorNSFW: false,
		Models:     models,
	}
}

// ParseSize parses "WxH". Both sides must be positive integers.
func ParseSize(size string) (int, int, bool) {
	ws, hs, found := strings.Cut(size, "x")
	if !found {
		return 0, 0, false
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w <= 0 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

func (c *Client) poll(ctx context.Context, id string) ([]Generation, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("horde").With("id", id)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		var status statusResponse
		err := upstream.DoJSON(ctx, c.client, upstream.Request{
			Method: http.MethodGet,
			URL:    c.baseURL + "/generate/status/" + url.PathEscape(id),
			Header: http.Header{"Client-Agent": {c.clientAgent}},
		}, &status)
		if err != nil {
			return nil, err
		}

		switch {
		case status.Done:
			return status.Generations, nil
		case status.Faulted:
			return nil, ErrFaulted
		case !status.IsPossible:
			return nil, ErrNotPossible
		}
		log.Debug("waiting for worker", "attempt", attempt, "wait_time", status.WaitTime, "queue_position", status.QueuePosition)
	}
	return nil, ErrTimeout
}

// encode returns img as base64. Workers either hand back a download URL or
// the base64 image itself.
func (c *Client) encode(ctx context.Context, img string) (string, error) {
	if !strings.HasPrefix(img, "http://") && !strings.HasPrefix(img, "https://") {
		return img, nil
	}
	data, err := upstream.Fetch(ctx, c.client, img)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Models lists the image models currently served, busiest first.
func (c *Client) Models(ctx context.Context) ([]upstream.Model, error) {
	log.FromContextOrDiscard(ctx).WithGroup("horde").Info("listing models")

	var statuses []modelStatus
	err := upstream.DoJSON(ctx, c.client, upstream.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/status/models?type=image",
		Header: http.Header{"Client-Agent": {c.clientAgent}},
	}, &statuses)
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(statuses, func(a, b modelStatus) int {
		return b.Count - a.Count
	})
	created := c.now().Unix()
	return lo.Map(statuses, func(s modelStatus, _ int) upstream.Model {
		return newModel(s.Name, created)
	}), nil
}

// DefaultModels is served when the horde cannot be reached.
func (c *Client) DefaultModels() []upstream.Model {
	return []upstream.Model{newModel("stable_diffusion", c.now().Unix())}
}

func newModel(name string, created int64) upstream.Model {
	return upstream.Model{
		ID:         name,
		Object:     "model",
		Created:    created,
		OwnedBy:    ownedBy,
		Permission: []any{},
	}
}
