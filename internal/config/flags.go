package config

import (
	"flag"
	"os"
	"time"

	"github.com/dkurilko/healthvault/internal/flagx"
)

// FlagNames lists every command-line flag this package consumes from
// os.Args. Callers that route os.Args through another flag parser (cobra)
// must strip these first, e.g. with flagx.StripArgs.
var FlagNames = []string{"-c", "-config", "-d", "-r", "-i"}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   data directory (default from Config)
//	-r int      maximum automatic retries per queued operation
//	-i int      connectivity probe interval in seconds
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-r", "-i"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
	fs.IntVar(&cfg.MaxRetries, "r", cfg.MaxRetries, "maximum automatic retries per queued operation")
	probeInterval := fs.Int("i", int(cfg.ProbeInterval.Seconds()), "connectivity probe interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.ProbeInterval = time.Duration(*probeInterval) * time.Second
}
