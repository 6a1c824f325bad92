package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nixxel-company-limited/catprint/adapter"
	"github.com/nixxel-company-limited/catprint/binarize"
	"github.com/nixxel-company-limited/catprint/config"
	"github.com/nixxel-company-limited/catprint/imageload"
	"github.com/nixxel-company-limited/catprint/job"
	"github.com/nixxel-company-limited/catprint/logging"
	"github.com/nixxel-company-limited/catprint/preview"
	"github.com/nixxel-company-limited/catprint/protocol"
	"github.com/nixxel-company-limited/catprint/server"
	"github.com/nixxel-company-limited/catprint/transport"
)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	var cfgPath string
	def := config.DefaultConfig()

	root := &cobra.Command{
		Use:           "catprint",
		Short:         "Print images on GB01/GT01 thermal cat printers",
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "config file (default $HOME/.catprint/config.toml)")
	pf.String(config.KeyLogLevel, def.LogLevel, "log level (debug, info, warn, error)")
	pf.String(config.KeyAlgorithm, def.Algorithm, fmt.Sprintf("binarization algorithm %v", binarize.Algorithms))
	pf.String(config.KeyDeviceName, def.DeviceName, "advertised printer name to connect to")
	pf.String(config.KeyTransport, def.Transport, "printer link: ble or usb")
	pf.Int(config.KeyPrintWidth, def.PrintWidth, "dots per printed line")
	pf.Int(config.KeyEnergy, def.Energy, "print head energy (0-65535)")
	pf.Duration(config.KeyScanTimeout, def.ScanTimeout, "how long to look for the printer")

	printCmd := &cobra.Command{
		Use:   "print <url-or-path>",
		Short: "Print one image from a URL or file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrint(cmd, cfgPath, args[0])
		},
	}
	printCmd.Flags().Bool(config.KeyPreview, def.Preview, "show the binarized image and ask before printing")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept images over TCP and print them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, cfgPath)
		},
	}
	serveCmd.Flags().String(config.KeyAddress, def.Address, "listen address")

	root.AddCommand(printCmd, serveCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runPrint(cmd *cobra.Command, cfgPath, source string) error {
	cfg, _, err := config.Load(cfgPath, cmd.Flags())
	if err != nil {
		return err
	}
	logger := logging.NewZerologAdapter(cfg.LogLevel)

	ctx, stop := signalContext()
	defer stop()

	loader, err := imageload.NewLoader(cfg.PrintWidth, imageload.WithLogger(logger))
	if err != nil {
		return err
	}
	grid, err := loader.Load(ctx, source)
	if err != nil {
		return err
	}

	radio, err := newRadio(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRadio(radio, logger)

	var confirmer job.Confirmer
	if cfg.Preview {
		confirmer = preview.NewTerminalPrompter()
	}
	runner, err := newRunner(cfg, radio, confirmer, logger)
	if err != nil {
		return err
	}

	res := runner.Run(ctx, job.Request{Grid: grid, Algorithm: cfg.Algorithm})
	switch res.Status {
	case job.StatusAborted:
		fmt.Fprintln(os.Stderr, "print aborted")
		return nil
	case job.StatusFailed:
		return res.Err
	}
	return nil
}

func runServe(cmd *cobra.Command, cfgPath string) error {
	cfg, v, err := config.Load(cfgPath, cmd.Flags())
	if err != nil {
		return err
	}
	logger := logging.NewZerologAdapter(cfg.LogLevel)

	ctx, stop := signalContext()
	defer stop()

	loader, err := imageload.NewLoader(cfg.PrintWidth, imageload.WithLogger(logger))
	if err != nil {
		return err
	}
	radio, err := newRadio(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRadio(radio, logger)

	runner, err := newRunner(cfg, radio, nil, logger)
	if err != nil {
		return err
	}

	srv := server.New(runner, loader, cfg.Algorithm, cfg.Address, logger)

	config.Watch(v, logger, func(next config.Config) {
		if next.Transport != cfg.Transport || next.PrintWidth != cfg.PrintWidth || next.Address != cfg.Address {
			logger.Warn("transport, print width and address changes need a restart")
			next.Transport, next.PrintWidth, next.Address = cfg.Transport, cfg.PrintWidth, cfg.Address
		}
		r, err := newRunner(next, radio, nil, logger)
		if err != nil {
			logger.Error("keeping previous settings", logging.Err(err))
			return
		}
		srv.Reconfigure(r, next.Algorithm)
	})

	if err := srv.StartAsync(); err != nil {
		return err
	}
	<-ctx.Done()
	return srv.Stop()
}

func newRadio(cfg config.Config, logger logging.Logger) (adapter.Radio, error) {
	switch cfg.Transport {
	case config.TransportUSB:
		return adapter.NewUSBRadio(logger), nil
	case config.TransportBLE:
		return adapter.NewBLERadio(logger), nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

func closeRadio(radio adapter.Radio, logger logging.Logger) {
	c, ok := radio.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warn("closing radio", logging.Err(err))
	}
}

func newRunner(cfg config.Config, radio adapter.Radio, confirmer job.Confirmer, logger logging.Logger) (*job.Runner, error) {
	enc, err := protocol.NewEncoder(cfg.ProtocolConfig())
	if err != nil {
		return nil, err
	}
	tr, err := transport.New(radio, cfg.TransportConfig(), logger)
	if err != nil {
		return nil, err
	}

	opts := []job.Option{job.WithLogger(logger)}
	if confirmer != nil {
		opts = append(opts, job.WithConfirmer(confirmer))
	}
	return job.NewRunner(enc, tr, opts...)
}
