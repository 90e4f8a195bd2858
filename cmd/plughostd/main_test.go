package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"szuro.net/plughost/internal/config"
	"szuro.net/plughost/internal/plugin"
)

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	for _, sub := range []string{"serve", "inspect", "exec", "version"} {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
}

func TestVersionCommand(t *testing.T) {
	config.Version = "1.2.3"
	t.Cleanup(func() { config.Version = "" })

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "PlugHost 1.2.3")
}

func TestCommandArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"inspect without path", []string{"inspect"}},
		{"exec without input", []string{"exec", "/tmp/p.so"}},
		{"version with extra arg", []string{"version", "now"}},
		{"serve with stray arg", []string{"serve", "extra"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewRootCmd()
			cmd.SetOut(new(bytes.Buffer))
			cmd.SetErr(new(bytes.Buffer))
			cmd.SetArgs(tt.args)

			assert.Error(t, cmd.Execute())
		})
	}
}

func TestExecMissingPlugin(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"exec", filepath.Join(t.TempDir(), "missing.so"), "x"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrLibraryLoad)
}

func TestLoadFlagsOptions(t *testing.T) {
	tests := []struct {
		name    string
		flags   loadFlags
		wantLen int
		wantErr bool
	}{
		{"defaults", loadFlags{runtime: "native"}, 1, false},
		{"with config", loadFlags{runtime: "process", config: `{"prefix":"> "}`}, 2, false},
		{"bad runtime", loadFlags{runtime: "wasm"}, 0, true},
		{"bad config", loadFlags{runtime: "native", config: "{"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := tt.flags.options()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, opts, tt.wantLen)
		})
	}
}

func TestServeBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plughost.yaml")
	require.NoError(t, os.WriteFile(path, []byte("runtime: wasm\n"), 0o600))

	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"serve", "-c", path})

	assert.Error(t, cmd.Execute())
}

func TestLoadConfiguredSkipsFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	conf, err := config.ParseBytes([]byte(`
plugins:
  - path: /nonexistent/first.so
  - path: /nonexistent/second
    runtime: process
`))
	require.NoError(t, err)

	m := newManager(conf, reg)
	t.Cleanup(func() { _ = m.Close() })

	assert.Equal(t, 0, loadConfigured(m, conf.Plugins))
	assert.Empty(t, m.List())

	count, err := testutil.GatherAndCount(reg, "plughost_load_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "both failures share the library_load reason")
}
