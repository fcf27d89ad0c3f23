// Copyright © 2016 Sidharth Kshatriya
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "clrdbg-mcp",
	Short: "clrdbg-mcp drives ICorDebug over stdio JSON-RPC for an LLM coding agent.",
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().BoolP("verbose", "v", false, "print more messages to know what clrdbg-mcp is doing")
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.clrdbg-mcp.yaml)")
	RootCmd.PersistentFlags().String("shim-path", "", "full path to libdbgshim.so (default: $CLRDBG_SHIM_PATH, then /usr/share/dotnet/shared/Microsoft.NETCore.App/libdbgshim.so)")
	RootCmd.PersistentFlags().String("dotnet-executable", "dotnet", "the dotnet executable (with the full path) (default is assume dotnet exists in $PATH)")
	RootCmd.PersistentFlags().Int("max-stack-depth", 128, "maximum number of frames a stacktrace tool call returns")
	RootCmd.PersistentFlags().Bool("first-chance-exceptions", false, "not read by any subcommand; first-chance exception stops are set per session by the launch tool's firstChanceExceptions parameter")
	RootCmd.PersistentFlags().String("metrics-listen", "", "address to serve Prometheus /metrics on (empty disables it)")
	RootCmd.PersistentFlags().String("otel-endpoint", "", "OTLP/HTTP collector endpoint for trace export (empty falls back to $OTEL_EXPORTER_OTLP_ENDPOINT; tracing is off when both are empty)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	viper.SetConfigName(".clrdbg-mcp")
	viper.AddConfigPath("$HOME")
	viper.AutomaticEnv()
	viper.SetConfigType("yaml")

	viper.BindPFlag("verbose", RootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("shim-path", RootCmd.PersistentFlags().Lookup("shim-path"))
	viper.BindPFlag("dotnet-executable", RootCmd.PersistentFlags().Lookup("dotnet-executable"))
	viper.BindPFlag("max-stack-depth", RootCmd.PersistentFlags().Lookup("max-stack-depth"))
	viper.BindPFlag("first-chance-exceptions", RootCmd.PersistentFlags().Lookup("first-chance-exceptions"))
	viper.BindPFlag("metrics-listen", RootCmd.PersistentFlags().Lookup("metrics-listen"))
	viper.BindPFlag("otel-endpoint", RootCmd.PersistentFlags().Lookup("otel-endpoint"))

	viper.SetDefault("dotnet-executable", "dotnet")
	viper.SetDefault("max-stack-depth", 128)

	viper.RegisterAlias("shim_path", "shim-path")
	viper.RegisterAlias("dotnet_executable", "dotnet-executable")
	viper.RegisterAlias("max_stack_depth", "max-stack-depth")
	viper.RegisterAlias("first_chance_exceptions", "first-chance-exceptions")
	viper.RegisterAlias("metrics_listen", "metrics-listen")
	viper.RegisterAlias("otel_endpoint", "otel-endpoint")

	if err := viper.ReadInConfig(); err == nil {
		color.Yellow("clrdbg-mcp: using config file: %v", viper.ConfigFileUsed())
	}
}
