package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chtemp runs the command from a temp directory so file logging and default
// data paths stay out of the repository.
func chtemp(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
}

func TestRootCmd_ShowsHelp(t *testing.T) {
	chtemp(t)

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "lexrag")
	assert.Contains(t, output, "Usage:")
}

func TestRootCmd_ShowsVersion(t *testing.T) {
	chtemp(t)

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "lexrag version")
	hasVersion := strings.Contains(output, "dev") || strings.Contains(output, ".")
	assert.True(t, hasVersion, "version output should carry a version number or 'dev'")
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	cmd := NewRootCmd()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}

	assert.Contains(t, names, "load")
	assert.Contains(t, names, "query")
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "stats")
	assert.Contains(t, names, "version")
}

func TestRootCmd_HasPersistentFlags(t *testing.T) {
	cmd := NewRootCmd()

	dataDir := cmd.PersistentFlags().Lookup("data-dir")
	require.NotNil(t, dataDir)
	assert.Equal(t, "", dataDir.DefValue)

	debug := cmd.PersistentFlags().Lookup("debug")
	require.NotNil(t, debug)
	assert.Equal(t, "false", debug.DefValue)
}

func TestQueryCmd_RequiresQueryArgument(t *testing.T) {
	chtemp(t)

	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"query"})

	assert.Error(t, cmd.Execute())
}

func TestQueryCmd_FailsWithoutIndex(t *testing.T) {
	chtemp(t)

	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"query", "right to erasure"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no index")
}

func TestStatsCmd_FailsWithoutIndex(t *testing.T) {
	chtemp(t)

	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"stats"})

	assert.Error(t, cmd.Execute())
}

func TestLoadCmd_RequiresCorpusArgument(t *testing.T) {
	chtemp(t)

	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"load"})

	assert.Error(t, cmd.Execute())
}
