// Package config loads runtime configuration for the healthvault CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-d string   data directory holding the database, key and queue state
//	-r int      maximum automatic retries per queued operation
//	-i int      connectivity probe interval (seconds)
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals, so values can be either
// strings like "3s" or integer nanoseconds:
//
//	{
//	  "data_dir": "/home/me/.healthvault",
//	  "max_retries": 5,
//	  "backoff_cap": "60s",
//	  "probe_interval": "3s",
//	  "probe_timeout": "2s"
//	}
//
// Note: This package does not read environment variables; use the JSON file
// or flags to configure values.
package config
