package main

import (
	"testing"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Pulse/internal/config"
)

func TestParseFlags_CallDefaultsFromConfig(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	t.Setenv("PULSE_CALL_RING_TIMEOUT", "12s")
	cfg, err := config.Load()
	require.NoError(t, err)

	opts, err := parseFlags(flag.NewFlagSet("peer", flag.ContinueOnError), []string{"-u", "alice"}, cfg.Call)
	require.NoError(t, err)
	assert.Equal(t, "alice", opts.User)
	assert.Equal(t, 12*time.Second, opts.RingTimeout)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, opts.STUNURLs)
	assert.True(t, opts.Camera)
}

func TestParseFlags_FlagsWin(t *testing.T) {
	defaults := config.CallConfig{STUNURLs: []string{"stun:a"}, RingTimeout: time.Minute}
	args := []string{"--user", "bob", "--ring-timeout", "3s", "--stun", "stun:b", "--video=false", "-a"}

	opts, err := parseFlags(flag.NewFlagSet("peer", flag.ContinueOnError), args, defaults)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, opts.RingTimeout)
	assert.Equal(t, []string{"stun:b"}, opts.STUNURLs)
	assert.False(t, opts.Camera)
	assert.True(t, opts.AutoAnswer)
}

func TestParseFlags_UserRequired(t *testing.T) {
	_, err := parseFlags(flag.NewFlagSet("peer", flag.ContinueOnError), nil, config.CallConfig{})
	assert.Error(t, err)
}
