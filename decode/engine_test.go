package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefaultEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultRules())
	require.NoError(t, err)
	return e
}

func TestPrimitives(t *testing.T) {
	regs := []uint16{0x0001, 0x86A0, 0xFFFF, 0x8000, 0x7FFF, 0x0403}

	assert.Equal(t, int64(0xFFFF), U16(regs, 2))
	assert.Equal(t, int64(-1), S16(regs, 2))
	assert.Equal(t, int64(-32768), S16(regs, 3))
	assert.Equal(t, int64(32767), S16(regs, 4))

	assert.Equal(t, int64(100000), U32(regs, 0, HighFirst))
	assert.Equal(t, int64(0x86A00001), U32(regs, 0, LowFirst))
	assert.Equal(t, int64(-1), S32([]uint16{0xFFFF, 0xFFFF}, 0, HighFirst))
	assert.Equal(t, int64(-2), S32([]uint16{0xFFFE, 0xFFFF}, 0, LowFirst))

	assert.Equal(t, int64(4), HighByte(regs, 5))
	assert.Equal(t, int64(3), LowByte(regs, 5))
	assert.True(t, Bit(regs, 5, 0))
	assert.True(t, Bit(regs, 5, 1))
	assert.False(t, Bit(regs, 5, 2))
	assert.True(t, Bit(regs, 5, 10))
}

func TestScaled(t *testing.T) {
	assert.Equal(t, 230.1, Scaled(2301))
	assert.Equal(t, 0.3, Scaled(3))
	assert.Equal(t, 50.0, Scaled(500))
	assert.Equal(t, -0.5, Scaled(-5))
	assert.Equal(t, 6553.5, Scaled(65535))
}

func TestNewEngine_RejectsAmbiguousRules(t *testing.T) {
	extract := func([]uint16) map[string]any { return map[string]any{} }
	_, err := NewEngine([]Rule{
		{Kind: "a", Address: 10, MinCount: 2, Extract: extract},
		{Kind: "b", Address: 10, MinCount: 2, Extract: extract},
	})
	assert.ErrorIs(t, err, ErrAmbiguousRule)

	_, err = NewEngine([]Rule{{Kind: "nil", Address: 1, MinCount: 1}})
	assert.Error(t, err)

	_, err = NewEngine([]Rule{{Kind: "zero", Address: 1, Extract: extract}})
	assert.Error(t, err)

	assert.Panics(t, func() {
		MustEngine([]Rule{
			{Kind: "a", Address: 10, MinCount: 2, Extract: extract},
			{Kind: "b", Address: 10, MinCount: 2, Extract: extract},
		})
	})
}

func TestDefaultRules_AreUnambiguous(t *testing.T) {
	e := newDefaultEngine(t)
	assert.Len(t, e.Rules(), len(DefaultRules()))
}

// Rules whose word order or bit layout has not been confirmed against vendor
// documentation. Changing this list means the register map was re-verified.
func TestDefaultRules_ProvisionalSet(t *testing.T) {
	var provisional []Kind
	for _, r := range newDefaultEngine(t).Rules() {
		if r.Provisional {
			provisional = append(provisional, r.Kind)
		}
	}
	assert.Equal(t, []Kind{
		KindRunHours, KindRunHoursShort, KindCurrentBreaker,
		KindActivePower, KindEnergy, KindStatus,
	}, provisional)
}

func TestDecode_MostSpecificRuleWins(t *testing.T) {
	e := newDefaultEngine(t)

	full := e.Decode(3, AddrRunHours, []uint16{0x0001, 0x0002, 30, 412, 250})
	assert.Equal(t, KindRunHours, full.Kind)
	assert.Equal(t, map[string]any{
		"run_hours":              int64(0x00010002),
		"run_minutes":            int64(30),
		"start_count":            int64(412),
		"maintenance_hours_left": int64(250),
	}, full.Fields)
	assert.Nil(t, full.Raw)

	short := e.Decode(3, AddrRunHours, []uint16{0, 1234, 7})
	assert.Equal(t, KindRunHoursShort, short.Kind)
	assert.Equal(t, map[string]any{"run_hours": int64(1234)}, short.Fields)

	none := e.Decode(3, AddrRunHours, []uint16{9})
	assert.Equal(t, Unknown, none.Kind)
	assert.Equal(t, []uint16{9}, none.Raw)
}

func TestDecode_Generator(t *testing.T) {
	b := newDefaultEngine(t).Decode(3, AddrGenerator, []uint16{2301, 2299, 2305, 3990, 3985, 3992, 500})
	assert.Equal(t, KindGenerator, b.Kind)
	assert.Equal(t, 230.1, b.Fields["gen_voltage_l1n"])
	assert.Equal(t, 229.9, b.Fields["gen_voltage_l2n"])
	assert.Equal(t, 399.2, b.Fields["gen_voltage_l3l1"])
	assert.Equal(t, 50.0, b.Fields["gen_frequency"])
	assert.Len(t, b.Fields, 7)
}

func TestDecode_Engine(t *testing.T) {
	b := newDefaultEngine(t).Decode(3, AddrEngine, []uint16{42, 0xFFF6, 75, 276, 1500, 281})
	assert.Equal(t, map[string]any{
		"oil_pressure":              4.2,
		"coolant_temperature":       int64(-10),
		"fuel_level":                int64(75),
		"battery_voltage":           27.6,
		"engine_speed":              int64(1500),
		"charge_alternator_voltage": 28.1,
	}, b.Fields)
}

func TestDecode_CurrentBreaker(t *testing.T) {
	e := newDefaultEngine(t)
	b := e.Decode(3, AddrCurrentBreaker, []uint16{1205, 1190, 1210, 3, 0x0002})
	assert.Equal(t, 120.5, b.Fields["gen_current_l1"])
	assert.Equal(t, false, b.Fields["mains_breaker_closed"])
	assert.Equal(t, true, b.Fields["gen_breaker_closed"])

	b = e.Decode(3, AddrCurrentBreaker, []uint16{0, 0, 0, 0, 0xFF01})
	assert.Equal(t, true, b.Fields["mains_breaker_closed"])
	assert.Equal(t, false, b.Fields["gen_breaker_closed"])
}

func TestDecode_ActivePowerAndEnergy(t *testing.T) {
	e := newDefaultEngine(t)
	p := e.Decode(3, AddrActivePower, []uint16{100, 0xFF9C, 50, 0xFFFF, 0xFFCE})
	assert.Equal(t, int64(100), p.Fields["active_power_l1"])
	assert.Equal(t, int64(-100), p.Fields["active_power_l2"])
	assert.Equal(t, int64(-50), p.Fields["active_power_total"])

	en := e.Decode(3, AddrEnergy, []uint16{0x86A0, 0x0001, 0x0010, 0x0000})
	assert.Equal(t, int64(100000), en.Fields["active_energy_kwh"])
	assert.Equal(t, int64(16), en.Fields["reactive_energy_kvarh"])
}

func TestDecode_AlarmAndStatus(t *testing.T) {
	e := newDefaultEngine(t)
	a := e.Decode(3, AddrAlarm, []uint16{0x0105, 2})
	assert.Equal(t, map[string]any{"alarm_code": int64(0x0105), "alarm_count": int64(2)}, a.Fields)

	s := e.Decode(3, AddrStatus, []uint16{0x0209, 17})
	assert.Equal(t, map[string]any{
		"operating_mode": int64(2),
		"engine_running": true,
		"common_alarm":   false,
		"common_warning": false,
		"remote_start":   true,
		"status_code":    int64(17),
	}, s.Fields)
}

func TestDecode_UnknownAddressAndFunction(t *testing.T) {
	e := newDefaultEngine(t)
	regs := []uint16{1, 2, 3}

	b := e.Decode(3, 999, regs)
	assert.Equal(t, Unknown, b.Kind)
	assert.Equal(t, uint16(999), b.Address)
	assert.Equal(t, regs, b.Raw)
	assert.Empty(t, b.Fields)

	// registers are copied, not aliased
	regs[0] = 42
	assert.Equal(t, uint16(1), b.Raw[0])

	w := e.Decode(6, AddrAlarm, []uint16{1, 2})
	assert.Equal(t, Unknown, w.Kind)
}

func TestDecode_Idempotent(t *testing.T) {
	e := newDefaultEngine(t)
	inputs := []struct {
		addr uint16
		regs []uint16
	}{
		{AddrRunHours, []uint16{0, 10, 0, 1, 2}},
		{AddrGenerator, []uint16{2301, 2299, 2305, 3990, 3985, 3992, 500}},
		{AddrStatus, []uint16{0x0101, 0}},
		{777, []uint16{5}},
	}
	for _, in := range inputs {
		first := e.Decode(3, in.addr, in.regs)
		second := e.Decode(3, in.addr, in.regs)
		assert.Equal(t, first, second)
		first.Fields["tampered"] = true
		assert.NotContains(t, e.Decode(3, in.addr, in.regs).Fields, "tampered")
	}
}

func TestDecode_AddingRuleKeepsExistingBehaviour(t *testing.T) {
	base := newDefaultEngine(t)
	extended, err := NewEngine(append(DefaultRules(), Rule{
		Kind: "battery", Address: 230, MinCount: 1,
		Extract: func(r []uint16) map[string]any {
			return map[string]any{"battery_charge": U16(r, 0)}
		},
	}))
	require.NoError(t, err)

	regs := []uint16{2301, 2299, 2305, 3990, 3985, 3992, 500}
	assert.Equal(t, base.Decode(3, AddrGenerator, regs), extended.Decode(3, AddrGenerator, regs))
	assert.Equal(t, Kind("battery"), extended.Decode(3, 230, []uint16{88}).Kind)
	assert.Equal(t, Unknown, base.Decode(3, 230, []uint16{88}).Kind)
}
