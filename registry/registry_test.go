package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Lookup(t *testing.T) {
	r, err := New([]Device{
		{ID: "gen-02", UnitID: 2},
		{ID: "gen-01", Name: "North", UnitID: 1},
	})
	require.NoError(t, err)

	d, err := r.Lookup("gen-01")
	require.NoError(t, err)
	assert.Equal(t, byte(1), d.UnitID)
	assert.Equal(t, []string{"gen-01", "gen-02"}, r.IDs())
	assert.Equal(t, 2, r.Len())

	_, err = r.Lookup("gen-99")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestNew_Rejects(t *testing.T) {
	_, err := New([]Device{{ID: "", UnitID: 1}})
	assert.Error(t, err)
	_, err = New([]Device{{ID: "a", UnitID: 0}})
	assert.Error(t, err)
	_, err = New([]Device{{ID: "a", UnitID: 248}})
	assert.Error(t, err)
	_, err = New([]Device{{ID: "a", UnitID: 1}, {ID: "a", UnitID: 2}})
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
devices:
  - id: gen-01
    name: North site
    unitId: 1
  - id: gen-02
    unitId: 17
`), 0o644))

	r, err := LoadFile(path)
	require.NoError(t, err)
	d, err := r.Lookup("gen-02")
	require.NoError(t, err)
	assert.Equal(t, byte(17), d.UnitID)

	_, err = LoadFile(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func TestFromRows(t *testing.T) {
	devices, err := fromRows([]GensetRow{{DeviceID: "gen-01", Name: "North", UnitID: 5}})
	require.NoError(t, err)
	assert.Equal(t, []Device{{ID: "gen-01", Name: "North", UnitID: 5}}, devices)

	for _, unit := range []int16{0, -1, 248, 257} {
		_, err := fromRows([]GensetRow{{DeviceID: "gen-x", UnitID: unit}})
		assert.Error(t, err, "unit %d", unit)
	}
}
