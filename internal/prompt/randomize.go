package prompt

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/dmorgan81/imagegateway/internal/log"
	"github.com/samber/do"
	"github.com/samber/lo"
)

var ErrNoPrompts = errors.New("no prompts configured")

// DefaultPrompt is used by the CLI when no prompt is given.
const DefaultPrompt = "a cat"

type Randomizer struct {
	prompts []string
	rnd     *rand.Rand
}

func NewRandomizer(i *do.Injector) (*Randomizer, error) {
	prompts := do.MustInvokeNamed[[]string](i, "prompts")
	return New(prompts, rand.NewSource(time.Now().UTC().UnixNano())), nil
}

func New(prompts []string, src rand.Source) *Randomizer {
	prompts = lo.Filter(lo.Map(prompts, func(p string, _ int) string {
		return strings.TrimSpace(p)
	}), func(p string, _ int) bool {
		return p != ""
	})
	return &Randomizer{prompts: prompts, rnd: rand.New(src)}
}

func (r *Randomizer) Randomize(ctx context.Context) (string, error) {
	log.FromContextOrDiscard(ctx).WithGroup("randomizer").Info("picking random prompt", "choices", len(r.prompts))
	if len(r.prompts) == 0 {
		return "", ErrNoPrompts
	}
	return r.prompts[r.rnd.Intn(len(r.prompts))], nil
}
