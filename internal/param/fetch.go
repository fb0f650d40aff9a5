package param

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/samber/lo"
)

var ErrNotFound = errors.New("parameter not found")

// Fetcher reads secrets and lists by name.
type Fetcher interface {
	Fetch(context.Context, string) (string, error)
	FetchAll(context.Context, string) ([]string, error)
}

// EnvFetcher reads parameters from the environment. FetchAll splits the
// value on newlines.
type EnvFetcher struct {
	Lookup func(string) (string, bool)
}

func (f *EnvFetcher) lookup(name string) (string, bool) {
	return lo.Ternary(f.Lookup != nil, f.Lookup, os.LookupEnv)(name)
}

func (f *EnvFetcher) Fetch(_ context.Context, name string) (string, error) {
	v, ok := f.lookup(name)
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *EnvFetcher) FetchAll(ctx context.Context, name string) ([]string, error) {
	v, err := f.Fetch(ctx, name)
	if err != nil {
		return nil, err
	}
	return lo.FilterMap(strings.Split(v, "\n"), func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	}), nil
}

// Resolve returns the parameter called name when set, otherwise fallback.
func Resolve(ctx context.Context, f Fetcher, name, fallback string) (string, error) {
	if name == "" {
		return fallback, nil
	}
	return f.Fetch(ctx, name)
}
