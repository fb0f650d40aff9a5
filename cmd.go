package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/dmorgan81/imagegateway/internal/config"
	"github.com/dmorgan81/imagegateway/internal/gateway"
	"github.com/dmorgan81/imagegateway/internal/handler"
	"github.com/dmorgan81/imagegateway/internal/image"
	"github.com/dmorgan81/imagegateway/internal/inject"
	"github.com/dmorgan81/imagegateway/internal/log"
	"github.com/dmorgan81/imagegateway/internal/prompt"
	"github.com/gin-gonic/gin"
	"github.com/samber/do"
	"github.com/spf13/cobra"
)

type app struct {
	root       *cobra.Command
	configPath string
	injector   *do.Injector
}

func newApp() *app {
	a := &app{}
	a.root = &cobra.Command{
		Use:               "imagegateway",
		Short:             "Image generation client, gateway and archiver",
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	a.root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("IMAGEGATEWAY_CONFIG"), "YAML config file")
	a.root.AddCommand(a.generateCmd(), a.serveCmd(), a.lambdaCmd())
	return a
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	logger := log.NewWithLevel(cmd.ErrOrStderr(), log.ParseLevel(cfg.LogLevel))
	ctx := log.NewContext(cmd.Context(), logger)
	cmd.SetContext(ctx)
	a.injector = inject.Setup(ctx, cfg)
	return nil
}

func (a *app) shutdown() {
	if a.injector != nil {
		_ = a.injector.Shutdown()
	}
}

func (a *app) generateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Send one image generation request and print the raw response",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := prompt.DefaultPrompt
			if len(args) > 0 {
				text = args[0]
			}

			gen, err := do.Invoke[image.Generator](a.injector)
			if err != nil {
				return err
			}
			resp, err := gen.Generate(cmd.Context(), text)
			if err != nil {
				return err
			}

			raw := bytes.TrimSpace(resp.Raw)
			if len(raw) == 0 {
				if raw, err = json.Marshal(resp.ImageResponse); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", raw)
			return err
		},
	}
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the OpenAI compatible Bytez and AI Horde gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()

			if log.FromContextOrDiscard(ctx).Enabled(ctx, slog.LevelDebug) {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}

			srv, err := do.Invoke[*gateway.Server](a.injector)
			if err != nil {
				return err
			}
			return srv.Serve(ctx)
		},
	}
}

func (a *app) lambdaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Run the daily generation archive as a Lambda function",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := do.Invoke[*handler.Handler](a.injector)
			if err != nil {
				return err
			}
			lambda.StartWithOptions(h.Handle, lambda.WithContext(cmd.Context()), lambda.WithEnableSIGTERM(a.shutdown))
			return nil
		},
	}
}
