package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sidewalksort/internal/config"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"route", "geocode", "serve", "config"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "sidewalksort", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRouteCommand_Flags(t *testing.T) {
	for _, name := range []string{
		"features", "roster", "route-line", "start", "start-address", "graph",
		"strategy", "loop-back", "output", "format", "path-output", "workers", "offline",
	} {
		assert.NotNil(t, routeCmd.Flags().Lookup(name), "route command should have --%s", name)
	}

	out := routeCmd.Flags().Lookup("output")
	require.NotNil(t, out)
	assert.Equal(t, "sorted_addresses.csv", out.DefValue)
}

func TestGeocodeCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range geocodeCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["reverse"])
	assert.True(t, names["forward"])
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestConfigCommand_Dump(t *testing.T) {
	cfg = &config.Config{
		Geocode: config.GeocodeConfig{GoogleAPIKey: "secret"},
		Log:     config.LogConfig{Level: "info", Format: "json"},
	}

	var buf bytes.Buffer
	configCmd.SetOut(&buf)
	t.Cleanup(func() { configCmd.SetOut(nil) })

	require.NoError(t, configCmd.RunE(configCmd, nil))
	assert.Contains(t, buf.String(), "geocode:")
	assert.NotContains(t, buf.String(), "secret")
}
