package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sarchlab/firmhook/arch"
	"github.com/sarchlab/firmhook/bus"
	"github.com/sarchlab/firmhook/config"
	"github.com/sarchlab/firmhook/emulation"
	"github.com/sarchlab/firmhook/gdbrsp"
	"github.com/sarchlab/firmhook/trap"
	"github.com/sarchlab/firmhook/trap/memtarget"
)

var runCmd = &cobra.Command{
	Use:   "run CONFIG...",
	Short: "Run a firmware with its intercepts.",
	Long: "`run` reads the configuration files in order, connects to the " +
		"emulator's GDB stub and serves the intercepts until the firmware " +
		"exits or a handler ends the run.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, args)
		if err != nil {
			return err
		}

		logger, err := flagLogger(cmd, cfg.LogLevel)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(),
			os.Interrupt, syscall.SIGTERM)
		defer stop()

		dryRun, _ := cmd.Flags().GetBool("dry-run")

		code, err := runEmulation(ctx, cfg, logger, dryRun)
		exitCode = code

		return err
	},
}

func init() {
	f := runCmd.Flags()
	f.StringSlice("env", []string{".env"}, "environment files with FIRMHOOK_ overrides")
	f.String("gdb", "", "address of the GDB stub, overrides machine.gdb")
	f.Bool("dry-run", false, "register the intercepts on an in-memory target and wait")
	f.String("record", "", "write statistics to this database, without .sqlite3")
	f.Bool("trace", false, "record every trap and guest call")
	f.Int("monitor-port", -1, "serve the monitor on this port, 0 picks one")
	f.Bool("open-monitor", false, "open the monitor in a browser")
	f.Int("rx-port", 0, "bus port the emulator receives on")
	f.Int("tx-port", 0, "bus port the emulator publishes on")

	rootCmd.AddCommand(runCmd)
}

func loadConfig(cmd *cobra.Command, files []string) (*config.Config, error) {
	logger, err := flagLogger(cmd, "info")
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(logger, files...)
	if err != nil {
		return nil, err
	}

	envFiles, _ := cmd.Flags().GetStringSlice("env")
	if err := cfg.ApplyEnv(envFiles...); err != nil {
		return nil, err
	}

	applyFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()

	if f.Changed("gdb") {
		cfg.Machine.GDB, _ = f.GetString("gdb")
	}

	if f.Changed("record") {
		cfg.Record.Path, _ = f.GetString("record")
	}

	if f.Changed("trace") {
		cfg.Record.Trace, _ = f.GetBool("trace")
	}

	if port, _ := f.GetInt("monitor-port"); port >= 0 {
		cfg.Monitor.Enabled = true
		cfg.Monitor.Port = port
	}

	if f.Changed("open-monitor") {
		cfg.Monitor.OpenBrowser, _ = f.GetBool("open-monitor")
		cfg.Monitor.Enabled = cfg.Monitor.Enabled || cfg.Monitor.OpenBrowser
	}

	if port, _ := f.GetInt("rx-port"); port > 0 {
		cfg.Bus.RxPort = port
	}

	if port, _ := f.GetInt("tx-port"); port > 0 {
		cfg.Bus.TxPort = port
	}
}

func runEmulation(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	dryRun bool,
) (int, error) {
	a, err := cfg.Arch()
	if err != nil {
		return 1, err
	}

	descs, err := cfg.Descriptors(logger)
	if err != nil {
		return 1, err
	}

	target, err := connect(ctx, cfg, a, logger, dryRun)
	if err != nil {
		return 1, err
	}

	sub, pub := bus.EmulatorEndpoints(cfg.Bus.RxPort, cfg.Bus.TxPort)
	transport, err := bus.ListenZMQ(ctx, sub, pub)
	if err != nil {
		stopTarget(target)
		return 1, fmt.Errorf("opening the peripheral bus: %w", err)
	}
	defer transport.Close()

	scratch, _ := cfg.Scratch()

	b := emulation.MakeBuilder().
		WithTarget(target).
		WithArch(a).
		WithLogger(logger).
		WithIntercepts(descs).
		WithSymbols(cfg.Symbols).
		WithScratch(uint64(scratch.BaseAddr), uint64(scratch.Size)).
		WithTransport(transport).
		WithPollInterval(cfg.Bus.PollInterval)

	if cfg.Machine.VectorBase != nil {
		b = b.WithVectorBase(uint64(*cfg.Machine.VectorBase))
	}

	if cfg.Record.Path != "" {
		b = b.WithRecord(cfg.Record.Path, cfg.Record.Trace)
	}

	if cfg.Monitor.Enabled {
		b = b.WithMonitorPort(cfg.Monitor.Port)
		if cfg.Monitor.OpenBrowser {
			b = b.WithBrowser()
		}
	}

	e, err := b.Build()
	if err != nil {
		stopTarget(target)
		return 1, err
	}

	if _, err := e.Start(); err != nil {
		e.Shutdown(1)
		e.Terminate()

		return 1, err
	}

	logger.Info("emulation started",
		"id", e.ID(),
		"intercepts", len(e.Dispatcher().Bindings()),
		"config", cfg.Files)

	code, err := e.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	return code, err
}

func connect(
	ctx context.Context,
	cfg *config.Config,
	a *arch.Arch,
	logger *slog.Logger,
	dryRun bool,
) (trap.Target, error) {
	if dryRun {
		t := memtarget.New(a)
		for _, name := range cfg.MemoryNames() {
			m := cfg.Memories[name]
			t.Map(uint64(m.BaseAddr), uint64(m.Size))
		}

		if cfg.Machine.InitSP != nil {
			if err := t.WriteRegister(a.SPReg, uint64(*cfg.Machine.InitSP)); err != nil {
				return nil, err
			}
		}

		return t, nil
	}

	if cfg.Machine.GDB == "" {
		return nil, errors.New("no GDB stub address, set machine.gdb or --gdb")
	}

	t, err := gdbrsp.MakeBuilder().
		WithArch(a).
		WithLogger(logger).
		WithMaxTransfer(cfg.Machine.GDBMaxTransfer, cfg.Machine.GDBMaxTransfer).
		Dial(ctx, cfg.Machine.GDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Machine.GDB, err)
	}

	return t, nil
}

func stopTarget(t trap.Target) {
	if s, ok := t.(trap.Stopper); ok {
		_ = s.Stop()
	}
}
