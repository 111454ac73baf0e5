package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkurilko/healthvault/internal/config"
	"github.com/dkurilko/healthvault/internal/flagx"
	"github.com/dkurilko/healthvault/internal/recovery"
)

// useTempDataDir points the configuration at a throwaway directory for the
// duration of one test.
func useTempDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"healthvault", "-d", dir}
	return dir
}

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	if stdin != "" {
		root.SetIn(strings.NewReader(stdin))
	}
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestRootCommand_RejectsInvalidFormat(t *testing.T) {
	useTempDataDir(t)

	_, _, err := execute(t, "", "scan", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestScanCommand_EmptyStore(t *testing.T) {
	dir := useTempDataDir(t)

	out, _, err := execute(t, "", "scan", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			TotalRecords int `json:"TotalRecords"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Zero(t, resp.Data.TotalRecords)

	// First use provisions the key and the database.
	_, err = os.Stat(filepath.Join(dir, "store.key"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "records.db"))
	assert.NoError(t, err)
}

func TestStatsCommand_EmptyStore(t *testing.T) {
	useTempDataDir(t)

	out, _, err := execute(t, "", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "total")
}

func TestCleanupCommand_AbortsWithoutConfirmation(t *testing.T) {
	useTempDataDir(t)

	out, _, err := execute(t, "n\n", "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "aborted")
}

func TestCleanupCommand_RejectsUnknownType(t *testing.T) {
	useTempDataDir(t)

	_, _, err := execute(t, "", "cleanup", "--yes", "--type", "nonsense")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown record type")
}

func TestQueueListCommand_EmptyQueue(t *testing.T) {
	useTempDataDir(t)

	out, _, err := execute(t, "", "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "queue is empty")
}

func TestQueueCancelCommand_RequiresIDOrAll(t *testing.T) {
	useTempDataDir(t)

	_, _, err := execute(t, "", "queue", "cancel")
	require.Error(t, err)
}

// executeAsBinary invokes the root command the way cmd/healthvault does:
// config flags stay in os.Args for the config package, and cobra receives
// the stripped argument list.
func executeAsBinary(t *testing.T, argv ...string) (string, error) {
	t.Helper()
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = append([]string{"healthvault"}, argv...)

	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(flagx.StripArgs(argv, config.FlagNames))
	err := root.Execute()
	return out.String(), err
}

func TestExecute_DataDirFlagDoesNotReachCobra(t *testing.T) {
	dir := t.TempDir()

	out, err := executeAsBinary(t, "-d", dir, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "total")
}

func TestExecute_ConfigFileFlagDoesNotReachCobra(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "conf.json")
	require.NoError(t, os.WriteFile(conf, []byte(fmt.Sprintf(`{"data_dir": %q}`, dir)), 0o600))

	out, err := executeAsBinary(t, "-c", conf, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "queue is empty")
}

func TestFormatReport_KeyLossWarning(t *testing.T) {
	r := &recovery.Report{TotalRecords: 2, LikelyKeyLoss: true}
	text := formatReport(r)
	assert.Contains(t, text, "WARNING")
	assert.Contains(t, text, "key")
}

func TestOutputFormatter_JSONError(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf, ErrWriter: &buf}

	err := f.Fail(assert.AnError)
	require.Error(t, err)
	assert.Contains(t, buf.String(), `"status": "error"`)
}
