package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	args, err := parseArgs([]string{"volume=5", "enable=true", "path=/tmp/a.txt", "content=aGk=", "note=\"quoted\""})
	require.NoError(t, err)
	assert.Equal(t, float64(5), args["volume"])
	assert.Equal(t, true, args["enable"])
	assert.Equal(t, "/tmp/a.txt", args["path"])
	assert.Equal(t, "aGk=", args["content"])
	assert.Equal(t, "quoted", args["note"])

	_, err = parseArgs([]string{"novalue"})
	assert.Error(t, err)
}
