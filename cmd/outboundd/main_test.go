package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manenim/outbound-guard/internal/config"
	"github.com/manenim/outbound-guard/pkg/retry"
)

func TestUpstreams_PresetFallback(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Retry.DefaultPreset = "gentle"
	cfg.Upstreams = []config.UpstreamConfig{
		{Name: "awin", BaseURL: "https://api.awin.com", Action: "network_read", Timeout: time.Second},
		{Name: "godaddy", BaseURL: "https://api.godaddy.com", Action: "registrar_call", RetryPreset: "aggressive", CacheTTL: time.Minute, Timeout: time.Second},
	}

	got := upstreams(cfg)
	require.Len(t, got, 2)
	assert.Equal(t, retry.PresetGentle, got[0].Preset)
	assert.Equal(t, retry.PresetAggressive, got[1].Preset)
	assert.Equal(t, time.Minute, got[1].CacheTTL)
	assert.Equal(t, "registrar_call", got[1].Action)
}
