package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmorgan81/imagegateway/internal/image"
	"github.com/dmorgan81/imagegateway/internal/page"
	"github.com/dmorgan81/imagegateway/internal/prompt"
	"github.com/dmorgan81/imagegateway/internal/store"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n0000IHDR")

type fakeGenerator struct {
	prompts []string
	resp    openai.ImageResponse
	err     error
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (image.Response, error) {
	f.prompts = append(f.prompts, prompt)
	return image.Response{ImageResponse: f.resp}, f.err
}

type recordingUploader struct {
	uploads []store.UploadParams
}

func (r *recordingUploader) Upload(_ context.Context, params store.UploadParams) error {
	r.uploads = append(r.uploads, params)
	return nil
}

func (r *recordingUploader) names() []string {
	names := make([]string, len(r.uploads))
	for i, u := range r.uploads {
		names[i] = u.Name
	}
	return names
}

type recordingInvalidator struct {
	paths []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, paths []string) error {
	r.paths = append(r.paths, paths...)
	return nil
}

func newTestHandler(gen *fakeGenerator, client *http.Client) (*Handler, *recordingUploader, *recordingInvalidator) {
	up := &recordingUploader{}
	inv := &recordingInvalidator{}
	return &Handler{
		randomizer:  prompt.New([]string{"a random fox"}, rand.NewSource(1)),
		generator:   gen,
		uploader:    up,
		invalidator: inv,
		templator:   &page.Templator{},
		client:      client,
		now:         func() time.Time { return time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC) },
	}, up, inv
}

func b64Response(n int) openai.ImageResponse {
	resp := openai.ImageResponse{Created: 1704207600}
	for i := 0; i < n; i++ {
		resp.Data = append(resp.Data, openai.ImageResponseDataInner{B64JSON: base64.StdEncoding.EncodeToString(pngBytes)})
	}
	return resp
}

func TestHandleToday(t *testing.T) {
	gen := &fakeGenerator{resp: b64Response(1)}
	h, up, inv := newTestHandler(gen, http.DefaultClient)

	out, err := h.Handle(context.Background(), Input{Prompt: "a cat"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a cat"}, gen.prompts)
	assert.Equal(t, Output{
		Date:    "20240102",
		Prompt:  "a cat",
		Model:   "stable-diffusion-v1-5/stable-diffusion-v1-5",
		Created: 1704207600,
		Images:  []string{"20240102-1.png"},
	}, out)

	assert.Equal(t, []string{"20240102-1.png", "latest.png", "20240102.html", "latest.html"}, up.names())
	assert.Equal(t, pngBytes, up.uploads[0].Data)
	assert.Equal(t, "image/png", up.uploads[0].ContentType)
	assert.Equal(t, "a cat", up.uploads[0].Metadata["prompt"])
	assert.Equal(t, "20240102", up.uploads[0].Metadata["date"])
	assert.Equal(t, "1704207600", up.uploads[0].Metadata["created"])
	assert.Equal(t, "text/html", up.uploads[2].ContentType)
	assert.Contains(t, string(up.uploads[2].Data), `src="/20240102-1.png"`)

	assert.Equal(t, []string{"/20240102-1.png", "/latest.png", "/20240102.html", "/latest.html"}, inv.paths)
}

func TestHandleBackfillSkipsLatest(t *testing.T) {
	h, up, _ := newTestHandler(&fakeGenerator{resp: b64Response(2)}, http.DefaultClient)

	out, err := h.Handle(context.Background(), Input{Prompt: "a cat", Date: "20231225"})
	require.NoError(t, err)
	assert.Equal(t, []string{"20231225-1.png", "20231225-2.png"}, out.Images)
	assert.Equal(t, []string{"20231225-1.png", "20231225-2.png", "20231225.html"}, up.names())
}

func TestHandleRandomPrompt(t *testing.T) {
	gen := &fakeGenerator{resp: b64Response(1)}
	h, _, _ := newTestHandler(gen, http.DefaultClient)

	out, err := h.Handle(context.Background(), Input{})
	require.NoError(t, err)
	assert.Equal(t, "a random fox", out.Prompt)
	assert.Equal(t, []string{"a random fox"}, gen.prompts)
}

func TestHandleFetchesURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("\xff\xd8\xff\xe0jpeg"))
	}))
	defer srv.Close()

	gen := &fakeGenerator{resp: openai.ImageResponse{Data: []openai.ImageResponseDataInner{{URL: srv.URL + "/cat"}}}}
	h, up, _ := newTestHandler(gen, srv.Client())

	out, err := h.Handle(context.Background(), Input{Prompt: "a cat", Date: "20240101"})
	require.NoError(t, err)
	assert.Equal(t, []string{"20240101-1.jpg"}, out.Images)
	assert.Equal(t, "image/jpeg", up.uploads[0].ContentType)
}

func TestHandleGeneratorError(t *testing.T) {
	boom := errors.New("boom")
	h, up, inv := newTestHandler(&fakeGenerator{err: boom}, http.DefaultClient)

	_, err := h.Handle(context.Background(), Input{Prompt: "a cat"})
	assert.Same(t, boom, err)
	assert.Empty(t, up.uploads)
	assert.Empty(t, inv.paths)
}

func TestHandleNoImages(t *testing.T) {
	h, _, _ := newTestHandler(&fakeGenerator{}, http.DefaultClient)

	_, err := h.Handle(context.Background(), Input{Prompt: "a cat"})
	assert.ErrorContains(t, err, "no images")
}

func TestHandleBadBase64(t *testing.T) {
	gen := &fakeGenerator{resp: openai.ImageResponse{Data: []openai.ImageResponseDataInner{{B64JSON: "!!!"}}}}
	h, up, _ := newTestHandler(gen, http.DefaultClient)

	_, err := h.Handle(context.Background(), Input{Prompt: "a cat"})
	assert.Error(t, err)
	assert.Empty(t, up.uploads)
}
