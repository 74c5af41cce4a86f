package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["serve"])
	require.True(t, names["invoke"])
	require.NotNil(t, root.PersistentFlags().Lookup("debug"))
}

func TestInvokeCmd_RequiresPrompt(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"invoke"})
	require.Error(t, root.Execute())
}

func TestInvokeCmd_RejectsBlankPrompt(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"invoke", "   "})
	require.ErrorContains(t, root.Execute(), "prompt must not be empty")
}

func TestNewLogger(t *testing.T) {
	for _, debug := range []bool{true, false} {
		log, err := newLogger(debug)
		require.NoError(t, err)
		require.NotNil(t, log)
	}
}
