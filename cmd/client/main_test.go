package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputName(t *testing.T) {
	got, err := outputName("explicit/out.bin", "../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, "explicit/out.bin", got)

	for header, want := range map[string]string{
		"report.pdf":          "report.pdf",
		"../../etc/passwd":    "passwd",
		"/tmp/abs.bin":        "abs.bin",
		`..\..\windows\x.dll`: "x.dll",
	} {
		got, err := outputName("", header)
		require.NoError(t, err, header)
		assert.Equal(t, want, got, header)
	}

	for _, header := range []string{"", ".", "..", "/", "a/..", `..\`} {
		_, err := outputName("", header)
		assert.Error(t, err, "%q", header)
	}
}

func TestSessionPath(t *testing.T) {
	assert.Equal(t, "set.yaml", sessionPath("set"))
	assert.Equal(t, "out/set.yaml", sessionPath("out/set/"))
	assert.Equal(t, "packets.db.yaml", sessionPath("packets.db"))
}
