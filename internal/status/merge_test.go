package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_IntoEmpty(t *testing.T) {
	got := Merge(nil, Snapshot{"heater_bed": map[string]any{"temperature": 60.04, "target": 60.0}})
	require.Equal(t, Snapshot{"heater_bed": map[string]any{"temperature": 60.04, "target": 60.0}}, got)
}

func TestMerge_UnionsFieldsPerTopic(t *testing.T) {
	snap := Snapshot{"print_stats": map[string]any{"state": "printing", "print_duration": 10.0}}
	Merge(snap, Snapshot{"print_stats": map[string]any{"print_duration": 11.0}})

	ps := snap.Topic("print_stats")
	assert.Equal(t, "printing", ps["state"], "fields absent from the fragment must survive")
	assert.Equal(t, 11.0, ps["print_duration"])
}

func TestMerge_NeverDeletes(t *testing.T) {
	snap := Snapshot{
		"heater_bed": map[string]any{"temperature": 20.0},
		"extruder":   map[string]any{"temperature": 21.0},
	}
	Merge(snap, Snapshot{"extruder": map[string]any{"target": 200.0}})
	Merge(snap, Snapshot{})

	require.Contains(t, snap, "heater_bed")
	require.Contains(t, snap, "extruder")
	assert.Equal(t, 21.0, snap.Topic("extruder")["temperature"])
	assert.Equal(t, 200.0, snap.Topic("extruder")["target"])
}

func TestMerge_DisjointFragmentsMatchSingleUnion(t *testing.T) {
	f1 := Snapshot{"heater_bed": map[string]any{"temperature": 55.0}, "print_stats": map[string]any{"state": "printing"}}
	f2 := Snapshot{"heater_bed": map[string]any{"target": 60.0}, "virtual_sdcard": map[string]any{"progress": 0.1}}
	union := Snapshot{
		"heater_bed":     map[string]any{"temperature": 55.0, "target": 60.0},
		"print_stats":    map[string]any{"state": "printing"},
		"virtual_sdcard": map[string]any{"progress": 0.1},
	}

	stepwise := Merge(Merge(Snapshot{}, f1), f2)
	single := Merge(Snapshot{}, union)
	assert.Equal(t, single, stepwise)
}

func TestMerge_NonMapReplacesWholesale(t *testing.T) {
	snap := Snapshot{"heaters": map[string]any{"available_heaters": []any{"extruder"}}}
	Merge(snap, Snapshot{"heaters": "gone"})
	assert.Equal(t, "gone", snap["heaters"])

	Merge(snap, Snapshot{"heaters": map[string]any{"available_heaters": []any{}}})
	assert.Equal(t, map[string]any{"available_heaters": []any{}}, snap["heaters"])
}

func TestMerge_DoesNotAliasFragment(t *testing.T) {
	frag := map[string]any{"temperature": 30.0}
	snap := Merge(nil, Snapshot{"extruder": frag})
	frag["temperature"] = 99.0
	assert.Equal(t, 30.0, snap.Topic("extruder")["temperature"])
}

func TestSnapshotClone(t *testing.T) {
	snap := Snapshot{"extruder": map[string]any{"temperature": 30.0}, "note": "x"}
	c := snap.Clone()
	c.Topic("extruder")["temperature"] = 1.0
	assert.Equal(t, 30.0, snap.Topic("extruder")["temperature"])
	assert.Equal(t, "x", c["note"])
	assert.Nil(t, Snapshot(nil).Clone())
}
