package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clrdbg/clrdbg-mcp/internal/console"
	"github.com/clrdbg/clrdbg-mcp/internal/engine"
	"github.com/clrdbg/clrdbg-mcp/internal/pdb"
	"github.com/clrdbg/clrdbg-mcp/internal/protocol"
	"github.com/clrdbg/clrdbg-mcp/internal/shim"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "interactive readline REPL over the same engine serve uses, for manual testing",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runConsole(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	RootCmd.AddCommand(consoleCmd)
}

func runConsole() error {
	logger := newLogger()
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
	disp.SetMaxStackDepth(viper.GetInt("max-stack-depth"))

	repl, err := console.New(disp, eng)
	if err != nil {
		return err
	}
	return repl.Run(ctx)
}
