package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	root := GetRootCmd()

	t.Run("metadata", func(t *testing.T) {
		assert.Equal(t, "monopoly", root.Use)
		assert.Equal(t, version, root.Version)
	})

	t.Run("subcommands registered", func(t *testing.T) {
		names := make(map[string]bool)
		for _, c := range root.Commands() {
			names[c.Name()] = true
		}
		assert.True(t, names["run"])
		assert.True(t, names["status"])
	})

	t.Run("global flags", func(t *testing.T) {
		require.NotNil(t, root.PersistentFlags().Lookup("config"))
		require.NotNil(t, root.PersistentFlags().Lookup("log-level"))
	})
}
