package page

import (
	"bytes"
	"context"
	_ "embed"
	"html/template"
	"sync"

	"github.com/dmorgan81/imagegateway/internal/log"
	"github.com/samber/do"
)

//go:embed assets/generation.html
var generationTmpl string

type Params struct {
	Date   string
	Images []string
	Model  string
	Prompt string
	Size   string
}

type Templator struct {
	tmpl *template.Template
	once sync.Once
}

func NewTemplator(*do.Injector) (*Templator, error) {
	return &Templator{}, nil
}

func (g *Templator) Template(ctx context.Context, params Params) ([]byte, error) {
	g.once.Do(func() {
		g.tmpl = template.Must(template.New("generation").Parse(generationTmpl))
	})

	log.FromContextOrDiscard(ctx).WithGroup("templator").Info("generating page", "date", params.Date)

	var data bytes.Buffer
	if err := g.tmpl.Execute(&data, params); err != nil {
		return nil, err
	}
	return data.Bytes(), nil
}
