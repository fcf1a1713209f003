package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adgate/adapters/jsonfile"
	"adgate/adapters/simulated"
	"adgate/core"
)

func fastRun() runOptions {
	sim := simulated.DefaultConfig()
	sim.FillRate, sim.RewardRate = 1, 1
	sim.LoadLatency, sim.ShowDuration = time.Millisecond, time.Millisecond
	sim.Seed = 11
	return runOptions{engagements: 2, requests: 3, settle: time.Second, sim: sim}
}

func TestRunSessionGrantsRewards(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runSession(context.Background(), &out, fastRun()))

	text := out.String()
	assert.Equal(t, 3, strings.Count(text, "reason=reward_earned"), text)
	assert.Contains(t, text, "3 granted, 0 denied, 6 engagements, ads_enabled=true")
	assert.NotContains(t, text, "\x1b[", "no color outside a terminal")
}

func TestRunSessionDisablesAdsAndPersists(t *testing.T) {
	o := fastRun()
	o.disableAfter = 1
	o.storePath = filepath.Join(t.TempDir(), "prefs.json")

	var out bytes.Buffer
	require.NoError(t, runSession(context.Background(), &out, o))
	assert.Equal(t, 2, strings.Count(out.String(), "reason=ads_disabled"), out.String())

	store, err := jsonfile.New(o.storePath)
	require.NoError(t, err)
	enabled, err := store.ReadAdsEnabled(context.Background())
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestRunSessionJSON(t *testing.T) {
	jsonOutput = true
	defer func() { jsonOutput = false }()

	o := fastRun()
	o.requests = 1
	var out bytes.Buffer
	require.NoError(t, runSession(context.Background(), &out, o))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var d core.GateDecision
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &d))
	assert.True(t, d.Granted)
	var summary map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &summary))
	assert.Equal(t, float64(1), summary["granted"])
}

func TestPrinterEvent(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out)
	p.event(core.NewSlotStateChanged(core.SlotEmpty, core.SlotLoading, "load-1"))
	p.event(core.NewAdShowEvent("show-1", core.ShowEvent{Kind: core.ShowImpression}))
	assert.Contains(t, out.String(), "slot empty -> loading")
	assert.Contains(t, out.String(), "ad_show_event impression")
}
