package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clrdbg/clrdbg-mcp/internal/doctor"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "run pre-flight checks: dotnet SDK version, shim loadability, kernel ptrace race",
	Run: func(cmd *cobra.Command, args []string) {
		runDoctor()
	},
}

func init() {
	RootCmd.AddCommand(doctorCmd)
}

func runDoctor() {
	if p := viper.GetString("shim-path"); p != "" {
		os.Setenv(shimPathEnvVar, p)
	}
	report := doctor.Run(viper.GetString("dotnet-executable"))
	for _, res := range report.Results {
		if res.OK {
			color.Green("[ok]   %s: %s", res.Name, res.Detail)
		} else {
			color.Red("[fail] %s: %s", res.Name, res.Detail)
		}
	}
	if !report.AllOK() {
		fmt.Println()
		color.Yellow("one or more checks failed; launch/attach may not work until they are fixed")
		os.Exit(1)
	}
}
