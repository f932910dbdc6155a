package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"batch", "scrape-server", "diagnose"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "research-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestBatchScrapeCommand_HasSubcommands(t *testing.T) {
	cmds := batchScrapeCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}
	expected := []string{"scrape", "status", "cancel"}
	for _, name := range expected {
		assert.True(t, names[name], "batch should have subcommand %q", name)
	}
}

func TestScrapeServeCommand_Flags(t *testing.T) {
	flag := scrapeServeCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "scrape-server command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestDiagnoseCommand_Registered(t *testing.T) {
	cmds := rootCmd.Commands()
	for _, c := range cmds {
		if c.Name() == "diagnose" {
			return
		}
	}
	t.Fatal("diagnose command not registered")
}
