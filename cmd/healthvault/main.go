package main

import (
	"os"

	"github.com/dkurilko/healthvault/internal/buildinfo"
	"github.com/dkurilko/healthvault/internal/cli"
	"github.com/dkurilko/healthvault/internal/config"
	"github.com/dkurilko/healthvault/internal/flagx"
)

func main() {
	buildinfo.PrintBuildData(os.Stderr)

	root := cli.NewRootCommand()
	// Config flags (-c/-config, -d, -r, -i) are read from os.Args by the
	// config package; cobra must not see them or it rejects the invocation.
	root.SetArgs(flagx.StripArgs(os.Args[1:], config.FlagNames))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
