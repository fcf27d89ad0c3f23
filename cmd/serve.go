package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clrdbg/clrdbg-mcp/internal/engine"
	"github.com/clrdbg/clrdbg-mcp/internal/metrics"
	"github.com/clrdbg/clrdbg-mcp/internal/model"
	"github.com/clrdbg/clrdbg-mcp/internal/pdb"
	"github.com/clrdbg/clrdbg-mcp/internal/protocol"
	"github.com/clrdbg/clrdbg-mcp/internal/shim"
	"github.com/clrdbg/clrdbg-mcp/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the stdio JSON-RPC debug server an LLM agent drives",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	RootCmd.AddCommand(serveCmd)
}

// noNativeController is the NewController this build wires: no cgo
// ICorDebug binding ships here (see DESIGN.md's Open Question entry),
// so every Launch/Attach fails fast and synchronously with a Config
// error rather than hanging waiting for a controller that will never
// arrive.
func noNativeController(pid int, native interface{}, sessionGeneration uint64) (engine.Controller, error) {
	return nil, model.NewConfigError("no native ICorDebug binding ships in this build")
}

func runServe() {
	logger := newLogger()
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if endpoint := viper.GetString("otel-endpoint"); endpoint != "" {
		if err := telemetry.Init(ctx, "clrdbg-mcp", endpoint); err != nil {
			sugar.Warnw("telemetry init failed, continuing without tracing", "err", err)
		}
	} else if err := telemetry.InitFromEnv(ctx, "clrdbg-mcp"); err != nil {
		sugar.Warnw("telemetry init from env failed, continuing without tracing", "err", err)
	}
	defer telemetry.Shutdown(context.Background())

	reg := metrics.New("clrdbg")
	if addr := viper.GetString("metrics-listen"); addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, reg); err != nil {
				sugar.Errorw("metrics server exited", "err", err)
			}
		}()
	}

	if p := viper.GetString("shim-path"); p != "" {
		os.Setenv(shimPathEnvVar, p)
	}
	loader, err := shim.Load()
	var binder engine.Binder
	if err != nil {
		sugar.Warnw("libdbgshim.so not loadable, launch/attach will fail fast", "err", err)
		binder = unavailableBinder{err: err}
	} else {
		binder = engine.ShimBinder{Loader: loader}
	}

	eng := engine.New(binder, pdb.Load, sugar)
	defer eng.Shutdown()

	disp := protocol.NewDispatcher(eng, noNativeController)
	disp.SetMetrics(reg)
	disp.SetMaxStackDepth(viper.GetInt("max-stack-depth"))

	server := protocol.NewServer(os.Stdin, os.Stdout, disp, sugar)
	if err := server.Serve(ctx, eng); err != nil {
		sugar.Errorw("serve exited with error", "err", err)
		os.Exit(1)
	}
}

// unavailableBinder implements engine.Binder by failing every call,
// used when the shim itself could not be dlopen'd at startup so a
// Launch/Attach call still gets a clean Config error instead of a nil
// pointer panic.
type unavailableBinder struct{ err error }

func (b unavailableBinder) CreateProcessForLaunch(cmdline string, suspended bool) (int, engine.ResumeHandle, error) {
	return 0, nil, b.err
}

func (b unavailableBinder) RegisterForRuntimeStartup(pid int, onStartup engine.StartupFunc) (interface{}, error) {
	return nil, b.err
}

func (b unavailableBinder) ResumeProcess(h engine.ResumeHandle) error     { return b.err }
func (b unavailableBinder) CloseResumeHandle(h engine.ResumeHandle) error { return b.err }
func (b unavailableBinder) Path() string                                 { return "" }
