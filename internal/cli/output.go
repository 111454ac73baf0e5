package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// OutputFormatter renders command results as human-readable text or JSON.
// Diagnostic output goes to ErrWriter so JSON on stdout stays parseable.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// response is the stable JSON shape for all commands.
type response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Success renders data. In text mode, text is printed as-is; in JSON mode the
// structured data is emitted instead.
func (f *OutputFormatter) Success(text string, data any) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(response{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, text)
	return err
}

// Fail renders an error and returns it so cobra propagates a non-zero exit.
func (f *OutputFormatter) Fail(err error) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		_ = enc.Encode(response{Status: "error", Error: err.Error()})
		return err
	}
	fmt.Fprintf(f.ErrWriter, "error: %v\n", err)
	return err
}

// VerboseLog writes a diagnostic line when verbose output is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if f.Verbose {
		fmt.Fprintf(f.ErrWriter, format+"\n", args...)
	}
}
