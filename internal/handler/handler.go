package handler

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dmorgan81/imagegateway/internal/feed"
	"github.com/dmorgan81/imagegateway/internal/image"
	"github.com/dmorgan81/imagegateway/internal/log"
	"github.com/dmorgan81/imagegateway/internal/page"
	"github.com/dmorgan81/imagegateway/internal/prompt"
	"github.com/dmorgan81/imagegateway/internal/store"
	"github.com/dmorgan81/imagegateway/internal/upstream"
	"github.com/samber/do"
	"github.com/samber/lo"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
)

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

type Input struct {
	Date   string `json:"date,omitempty"`
	Prompt string `json:"prompt,omitempty"`
}

type Output struct {
	Date    string   `json:"date"`
	Prompt  string   `json:"prompt"`
	Model   string   `json:"model"`
	Created int64    `json:"created"`
	Images  []string `json:"images"`
}

func (o Output) metadata() map[string]string {
	return map[string]string{
		"date":    o.Date,
		"model":   o.Model,
		"prompt":  o.Prompt,
		"created": strconv.FormatInt(o.Created, 10),
	}
}

type Handler struct {
	randomizer  *prompt.Randomizer
	generator   image.Generator
	uploader    store.Uploader
	invalidator store.Invalidator
	templator   *page.Templator
	feed        *feed.Generator
	client      *http.Client
	now         func() time.Time
}

func NewHandler(i *do.Injector) (*Handler, error) {
	return &Handler{
		randomizer:  do.MustInvoke[*prompt.Randomizer](i),
		generator:   do.MustInvoke[image.Generator](i),
		uploader:    do.MustInvoke[store.Uploader](i),
		invalidator: do.MustInvoke[store.Invalidator](i),
		templator:   do.MustInvoke[*page.Templator](i),
		feed:        do.MustInvokeNamed[*feed.Generator](i, "feed"),
		client:      do.MustInvoke[*http.Client](i),
		now:         time.Now,
	}, nil
}

// Handle generates one image set and archives it with its page.
func (h *Handler) Handle(ctx context.Context, input Input) (Output, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("handler").With("input", input)
	log.Info("handling invocation")

	if input.Prompt == "" {
		p, err := h.randomizer.Randomize(ctx)
		if err != nil {
			return Output{}, err
		}
		input.Prompt = p
	}

	latest := false
	if input.Date == "" {
		input.Date = h.now().UTC().Format("20060102")
		latest = true
	}

	resp, err := h.generator.Generate(ctx, input.Prompt)
	if err != nil {
		return Output{}, err
	}
	if len(resp.Data) == 0 {
		return Output{}, fmt.Errorf("gateway returned no images for %q", input.Prompt)
	}

	images, err := h.download(ctx, resp.Data)
	if err != nil {
		return Output{}, err
	}

	out := Output{Date: input.Date, Prompt: input.Prompt, Model: image.Model, Created: resp.Created}
	metadata := out.metadata()

	var uploads []store.UploadParams
	for i, img := range images {
		contentType := http.DetectContentType(img)
		name := fmt.Sprintf("%s-%d%s", input.Date, i+1, lo.ValueOr(extensions, contentType, ".png"))
		out.Images = append(out.Images, name)
		uploads = append(uploads, store.UploadParams{Name: name, Data: img, ContentType: contentType, Metadata: metadata})
		if latest && i == 0 {
			uploads = append(uploads, store.UploadParams{
				Name:        "latest" + lo.ValueOr(extensions, contentType, ".png"),
				Data:        img,
				ContentType: contentType,
				Metadata:    metadata,
			})
		}
	}

	html, err := h.templator.Template(ctx, page.Params{
		Date:   out.Date,
		Images: out.Images,
		Model:  out.Model,
		Prompt: out.Prompt,
		Size:   image.Size,
	})
	if err != nil {
		return Output{}, err
	}
	uploads = append(uploads, store.UploadParams{Name: input.Date + ".html", Data: html, ContentType: "text/html", Metadata: metadata})
	if latest {
		uploads = append(uploads, store.UploadParams{Name: "latest.html", Data: html, ContentType: "text/html", Metadata: metadata})
	}

	for _, u := range uploads {
		if err := h.uploader.Upload(ctx, u); err != nil {
			return Output{}, err
		}
	}
	paths := lo.Map(uploads, func(u store.UploadParams, _ int) string { return "/" + u.Name })

	// The feed lists the bucket, so it is rebuilt after the uploads land.
	if h.feed != nil {
		rss, err := h.feed.Generate(ctx)
		if err != nil {
			return Output{}, err
		}
		if err := h.uploader.Upload(ctx, store.UploadParams{Name: "rss.xml", Data: rss, ContentType: "application/rss+xml"}); err != nil {
			return Output{}, err
		}
		paths = append(paths, "/rss.xml")
	}

	if err := h.invalidator.Invalidate(ctx, paths); err != nil {
		return Output{}, err
	}

	log.Info("archived generation", "images", out.Images)
	return out, nil
}

// download resolves each returned image to bytes, from inline base64 or its URL.
func (h *Handler) download(ctx context.Context, data []openai.ImageResponseDataInner) ([][]byte, error) {
	images := make([][]byte, len(data))
	group, gctx := errgroup.WithContext(ctx)
	for i, d := range data {
		i, d := i, d
		group.Go(func() error {
			if d.B64JSON != "" {
				img, err := base64.StdEncoding.DecodeString(d.B64JSON)
				images[i] = img
				return err
			}
			img, err := upstream.Fetch(gctx, h.client, d.URL)
			images[i] = img
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}
