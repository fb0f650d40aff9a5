package inject

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/dmorgan81/imagegateway/internal/bytez"
	"github.com/dmorgan81/imagegateway/internal/config"
	"github.com/dmorgan81/imagegateway/internal/feed"
	"github.com/dmorgan81/imagegateway/internal/gateway"
	"github.com/dmorgan81/imagegateway/internal/handler"
	"github.com/dmorgan81/imagegateway/internal/horde"
	"github.com/dmorgan81/imagegateway/internal/image"
	"github.com/dmorgan81/imagegateway/internal/log"
	"github.com/dmorgan81/imagegateway/internal/page"
	"github.com/dmorgan81/imagegateway/internal/param"
	"github.com/dmorgan81/imagegateway/internal/prompt"
	"github.com/dmorgan81/imagegateway/internal/store"
	"github.com/samber/do"
)

// Setup registers every service. Providers are lazy, so AWS is only touched
// by the commands that need it.
func Setup(ctx context.Context, cfg *config.Config) *do.Injector {
	logger := log.FromContextOrDiscard(ctx)

	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		},
	})
	do.ProvideValue[*slog.Logger](injector, logger)
	do.ProvideValue[*config.Config](injector, cfg)

	do.Provide[aws.Config](injector, func(i *do.Injector) (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx)
	})
	do.Provide[*ssm.Client](injector, func(i *do.Injector) (*ssm.Client, error) {
		return ssm.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*s3.Client](injector, func(i *do.Injector) (*s3.Client, error) {
		return s3.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*cloudfront.Client](injector, func(i *do.Injector) (*cloudfront.Client, error) {
		return cloudfront.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.ProvideValue[*http.Client](injector, http.DefaultClient)

	// Parameter Store is only reached when a parameter name is configured.
	if cfg.Gateway.APIKeyParam != "" || cfg.Bytez.APIKeyParam != "" || cfg.Archive.PromptsParam != "" {
		do.Provide[param.Fetcher](injector, param.NewParameterStoreFetcher)
	} else {
		do.ProvideValue[param.Fetcher](injector, &param.EnvFetcher{})
	}

	do.ProvideNamedValue[string](injector, "gateway_base_url", cfg.Gateway.BaseURL)
	do.ProvideNamed[string](injector, "gateway_api_key", func(i *do.Injector) (string, error) {
		return param.Resolve(ctx, do.MustInvoke[param.Fetcher](i), cfg.Gateway.APIKeyParam, cfg.Gateway.APIKey)
	})
	do.ProvideNamedValue[string](injector, "bytez_base_url", cfg.Bytez.BaseURL)
	do.ProvideNamed[string](injector, "bytez_api_key", func(i *do.Injector) (string, error) {
		return param.Resolve(ctx, do.MustInvoke[param.Fetcher](i), cfg.Bytez.APIKeyParam, cfg.Bytez.APIKey)
	})
	do.ProvideNamed[[]string](injector, "prompts", func(i *do.Injector) ([]string, error) {
		if cfg.Archive.PromptsParam == "" {
			return []string{prompt.DefaultPrompt}, nil
		}
		return do.MustInvoke[param.Fetcher](i).FetchAll(ctx, cfg.Archive.PromptsParam)
	})
	do.ProvideNamedValue[string](injector, "listen_addr", cfg.Server.Addr)
	do.ProvideNamedValue[[]string](injector, "allow_origins", cfg.Server.AllowOrigins)
	do.ProvideNamedValue[string](injector, "bucket", cfg.Archive.Bucket)
	do.ProvideNamedValue[string](injector, "distribution", cfg.Archive.Distribution)
	do.ProvideNamedValue[string](injector, "site", cfg.Archive.Site)
	do.ProvideValue[horde.Options](injector, cfg.HordeOptions())

	do.Provide[image.Generator](injector, image.NewGatewayGenerator)
	do.Provide[*horde.Client](injector, horde.NewClient)
	do.Provide[*bytez.Client](injector, bytez.NewClient)
	do.Provide[*gateway.Server](injector, gateway.NewServer)

	if cfg.Archive.Bucket != "" {
		do.Provide[store.Uploader](injector, store.NewS3Uploader)
		do.ProvideNamed[*feed.Generator](injector, "feed", feed.NewS3Generator)
	} else {
		do.ProvideValue[store.Uploader](injector, &store.FileUploader{Dir: cfg.Archive.Dir})
		do.ProvideNamedValue[*feed.Generator](injector, "feed", nil)
	}
	if cfg.Archive.Distribution != "" {
		do.Provide[store.Invalidator](injector, store.NewCloudFrontInvalidator)
	} else {
		do.ProvideValue[store.Invalidator](injector, store.NopInvalidator{})
	}
	do.Provide[*prompt.Randomizer](injector, prompt.NewRandomizer)
	do.Provide[*page.Templator](injector, page.NewTemplator)
	do.Provide[*handler.Handler](injector, handler.NewHandler)

	return injector
}
