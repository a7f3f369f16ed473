package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"murmur/internal/bootstrap"
	"murmur/internal/config"
	"murmur/internal/control"
	"murmur/internal/domain"
	"murmur/internal/models"
	"murmur/internal/observability"
	"murmur/internal/platform"
	"murmur/internal/ports"
	"murmur/internal/usecase"
)

const usage = `usage: murmur <command> [flags]

commands:
  run                  start the dictation daemon
  toggle               press the hotkey on a running daemon
  status               show the running daemon's state
  models list          list known models and their cache state
  models pull <name>   download a model into the cache
  models reset <name>  clear a failed download on the running daemon
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "murmur:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return errors.New("missing command")
	}

	logCfg, err := observability.LoadLogConfig()
	logger := observability.InitLogger(logCfg)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid log settings; using defaults")
	}

	switch args[0] {
	case "run":
		return runDaemon(args[1:], stdout, logger)
	case "toggle":
		return runClient(args[1:], stdout, control.OpToggle)
	case "status":
		return runClient(args[1:], stdout, control.OpStatus)
	case "models":
		return runModels(args[1:], stdout, logger)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runDaemon(args []string, stdout io.Writer, logger zerolog.Logger) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file (default "+config.DefaultPath()+")")
	initConfig := fs.Bool("init-config", false, "write the default config file and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *initConfig {
		path := *configPath
		if path == "" {
			path = config.DefaultPath()
		}
		created, err := config.WriteDefault(path)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintln(stdout, "wrote", path)
		} else {
			fmt.Fprintln(stdout, path, "already exists")
		}
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	app := NewApp(observability.Component("app"), cfg.Notifications)

	var paster ports.Paster
	if cfg.AutoPaste {
		paster = bootstrap.PlatformPaster(logger)
	}
	services, err := bootstrap.Build(cfg, app, platform.NewClipboard(), paster)
	if err != nil {
		app.SessionError(domain.ErrorCodeStartup, err.Error())
		return err
	}
	defer services.Close()

	handler := daemonControl{SessionController: services.Controller, models: services.Models}
	server := control.NewServer(cfg.Control.Socket, handler, observability.Component("control"))
	ln, err := server.Listen()
	if err != nil {
		app.SessionError(domain.ErrorCodeStartup, err.Error())
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("backend", cfg.Backend).
		Str("provider", cfg.Remote.Provider).
		Str("socket", server.Path()).
		Bool("auto_paste", cfg.AutoPaste).
		Bool("restore_clipboard", cfg.RestoreClipboard).
		Msg("murmur starting")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return services.Controller.Run(ctx) })
	g.Go(func() error { return server.Serve(ctx, ln) })
	g.Go(func() error { return observability.ServeMetrics(ctx, cfg.Metrics.Addr, observability.Component("metrics")) })
	g.Go(func() error { return forwardHotkeySignals(ctx, services.Controller, logger) })

	err = g.Wait()
	logger.Info().Msg("murmur stopped")
	return err
}

// daemonControl serves control socket ops from the session controller and
// the model cache.
type daemonControl struct {
	*usecase.SessionController
	models *models.Manager
}

func (d daemonControl) ResetModel(name string) error {
	return d.models.Reset(name)
}

// forwardHotkeySignals turns SIGUSR1 into hotkey presses where supported.
func forwardHotkeySignals(ctx context.Context, controller interface{ HotkeyPressed() error }, logger zerolog.Logger) error {
	sigs := hotkeySignals()
	if len(sigs) == 0 {
		return nil
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			if err := controller.HotkeyPressed(); err != nil {
				logger.Warn().Err(err).Msg("hotkey signal dropped")
			}
		}
	}
}

func runClient(args []string, stdout io.Writer, op string) error {
	fs := flag.NewFlagSet(op, flag.ContinueOnError)
	socket := fs.String("socket", "", "control socket (default from config)")
	configPath := fs.String("config", "", "config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := *socket
	if path == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		path = cfg.Control.Socket
	}

	resp, err := control.Send(context.Background(), path, control.Request{Op: op})
	if err != nil {
		return err
	}
	if op == control.OpStatus && resp.Status != nil {
		fmt.Fprintf(stdout, "state: %s\n", resp.Status.State)
		if resp.Status.SessionID != "" {
			fmt.Fprintf(stdout, "session: %s\n", resp.Status.SessionID)
		}
		if resp.Status.Message != "" {
			fmt.Fprintf(stdout, "last: %s\n", resp.Status.Message)
		}
		fmt.Fprintf(stdout, "uptime: %.0fs\n", resp.UptimeSec)
		return nil
	}
	fmt.Fprintln(stdout, resp.Message)
	return nil
}

func runModels(args []string, stdout io.Writer, logger zerolog.Logger) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return errors.New("missing models subcommand")
	}

	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file")
	socket := fs.String("socket", "", "control socket for reset (default from config)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	if args[0] == "reset" {
		if fs.NArg() != 1 {
			return errors.New("usage: murmur models reset <name>")
		}
		path := *socket
		if path == "" {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			path = cfg.Control.Socket
		}
		resp, err := control.Send(context.Background(), path, control.Request{Op: control.OpResetModel, Model: fs.Arg(0)})
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, resp.Message)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	manager := bootstrap.NewModelManager(cfg)
	defer manager.Close()

	switch args[0] {
	case "list":
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSTATUS\tSIZE\tPATH")
		for _, desc := range manager.List() {
			fmt.Fprintf(tw, "%s\t%s\t%dMB\t%s\n", desc.Name, desc.Status, desc.Size/1_000_000, desc.Path)
		}
		return tw.Flush()
	case "pull":
		if fs.NArg() != 1 {
			return errors.New("usage: murmur models pull <name>")
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info().Str("model", fs.Arg(0)).Msg("fetching model")
		desc, err := manager.Ensure(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, desc.Path)
		return nil
	default:
		return fmt.Errorf("unknown models subcommand %q", args[0])
	}
}
