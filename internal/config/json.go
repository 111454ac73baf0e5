package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dkurilko/healthvault/internal/flagx"
	"github.com/dkurilko/healthvault/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "3s"
// or as integer nanoseconds. After parsing, set fields are copied into the
// runtime Config.
type JsonConfig struct {
	DataDir        string         `json:"data_dir"`
	DatabaseFile   string         `json:"database_file"`
	QueueStateFile string         `json:"queue_state_file"`
	MaxRetries     int            `json:"max_retries"`
	BackoffCap     timex.Duration `json:"backoff_cap"`
	ProbeInterval  timex.Duration `json:"probe_interval"`
	ProbeTimeout   timex.Duration `json:"probe_timeout"`
}

// parseJson overlays Config with values loaded from a JSON file. The file
// path comes from the -c or -config flags; when neither is given the
// function returns without touching cfg. Fields absent from the JSON keep
// their current values. Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.DataDir != "" {
		cfg.DataDir = jc.DataDir
	}
	if jc.DatabaseFile != "" {
		cfg.DatabaseFile = jc.DatabaseFile
	}
	if jc.QueueStateFile != "" {
		cfg.QueueStateFile = jc.QueueStateFile
	}
	if jc.MaxRetries != 0 {
		cfg.MaxRetries = jc.MaxRetries
	}
	if jc.BackoffCap.Duration != 0 {
		cfg.BackoffCap = time.Duration(jc.BackoffCap.Duration)
	}
	if jc.ProbeInterval.Duration != 0 {
		cfg.ProbeInterval = time.Duration(jc.ProbeInterval.Duration)
	}
	if jc.ProbeTimeout.Duration != 0 {
		cfg.ProbeTimeout = time.Duration(jc.ProbeTimeout.Duration)
	}
}
