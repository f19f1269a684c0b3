package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCommand()

	names := make([]string, 0, len(root.Commands))
	for _, c := range root.Commands {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"serve", "migrate", "tile"}, names)

	migrate := root.Command("migrate")
	require.NotNil(t, migrate)
	for _, sub := range []string{"up", "down", "reset", "status", "version", "up-to"} {
		assert.NotNil(t, migrate.Command(sub), sub)
	}
}

func TestCommandsReportConfigErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	for _, args := range [][]string{
		{"imagery", "--config", missing, "serve"},
		{"imagery", "-c", missing, "migrate", "up"},
	} {
		t.Run(args[len(args)-1], func(t *testing.T) {
			root := newRootCommand()
			root.Writer = &bytes.Buffer{}
			root.ErrWriter = &bytes.Buffer{}

			err := root.Run(context.Background(), args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "failed to load configuration")
		})
	}
}
