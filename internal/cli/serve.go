package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "github.com/ixado/ixado/internal/adapter/claudecli"
	_ "github.com/ixado/ixado/internal/adapter/codexcli"
	_ "github.com/ixado/ixado/internal/adapter/geminicli"
	_ "github.com/ixado/ixado/internal/adapter/mockcli"
	"github.com/ixado/ixado/internal/config"
	"github.com/ixado/ixado/internal/logging"
	"github.com/ixado/ixado/internal/metrics"
	"github.com/ixado/ixado/internal/web"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the web control surface (HTTP API, SSE log streams, metrics)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from settings, then "+web.DefaultAddr+")")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	// The web daemon logs JSON to its own file sink on top of stderr.
	if path := os.Getenv(config.EnvWebLogFile); path != "" {
		webLogger, err := logging.New(logging.Options{Level: flagLogLevel, FilePath: path})
		if err != nil {
			return err
		}
		a.logger = webLogger
	}

	if serveAddr != "" {
		a.settings.Web.Addr = serveAddr
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := web.NewServer(web.ServerDeps{
		Center:      a.center,
		Sup:         a.sup,
		Settings:    a.settings,
		Watcher:     web.NewRegistryWatcher(a.sup.Registry(), a.logger),
		Metrics:     metrics.New(),
		Logger:      a.logger,
		ProjectName: a.projectName,
		RootDir:     a.rootDir,
	})
	if err := srv.Serve(ctx); err != nil {
		a.logger.Error("web surface failed", zap.Error(err))
		return err
	}
	return nil
}
