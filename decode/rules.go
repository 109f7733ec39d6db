package decode

const (
	KindRunHours       Kind = "run_hours"
	KindRunHoursShort  Kind = "run_hours_short"
	KindGenerator      Kind = "generator"
	KindEngine         Kind = "engine"
	KindMains          Kind = "mains"
	KindCurrentBreaker Kind = "current_breaker"
	KindActivePower    Kind = "active_power"
	KindEnergy         Kind = "energy"
	KindAlarm          Kind = "alarm"
	KindStatus         Kind = "status"
)

// Register block start addresses of the genset controller map.
const (
	AddrRunHours       uint16 = 60
	AddrGenerator      uint16 = 100
	AddrEngine         uint16 = 120
	AddrMains          uint16 = 140
	AddrCurrentBreaker uint16 = 160
	AddrActivePower    uint16 = 180
	AddrEnergy         uint16 = 190
	AddrAlarm          uint16 = 200
	AddrStatus         uint16 = 210
)

// Word orders observed on the controller firmware in the field.
const (
	runHoursOrder    = HighFirst
	powerTotalOrder  = HighFirst
	energyWordsOrder = LowFirst
)

// DefaultRules is the register map of the genset controllers in the fleet.
func DefaultRules() []Rule {
	return []Rule{
		{
			Kind: KindRunHours, Address: AddrRunHours, MinCount: 5, Provisional: true,
			Extract: func(r []uint16) map[string]any {
				return map[string]any{
					"run_hours":              U32(r, 0, runHoursOrder),
					"run_minutes":            U16(r, 2),
					"start_count":            U16(r, 3),
					"maintenance_hours_left": U16(r, 4),
				}
			},
		},
		{
			Kind: KindRunHoursShort, Address: AddrRunHours, MinCount: 2, Provisional: true,
			Extract: func(r []uint16) map[string]any {
				return map[string]any{"run_hours": U32(r, 0, runHoursOrder)}
			},
		},
		{
			Kind: KindGenerator, Address: AddrGenerator, MinCount: 7,
			Extract: func(r []uint16) map[string]any {
				return threePhase("gen", r)
			},
		},
		{
			Kind: KindEngine, Address: AddrEngine, MinCount: 6,
			Extract: func(r []uint16) map[string]any {
				return map[string]any{
					"oil_pressure":              Scaled(U16(r, 0)),
					"coolant_temperature":       S16(r, 1),
					"fuel_level":                U16(r, 2),
					"battery_voltage":           Scaled(U16(r, 3)),
					"engine_speed":              U16(r, 4),
					"charge_alternator_voltage": Scaled(U16(r, 5)),
				}
			},
		},
		{
			Kind: KindMains, Address: AddrMains, MinCount: 7,
			Extract: func(r []uint16) map[string]any {
				return threePhase("mains", r)
			},
		},
		{
			// bit 0 and bit 1 of the low byte of register 4
			Kind: KindCurrentBreaker, Address: AddrCurrentBreaker, MinCount: 5, Provisional: true,
			Extract: func(r []uint16) map[string]any {
				return map[string]any{
					"gen_current_l1":       Scaled(U16(r, 0)),
					"gen_current_l2":       Scaled(U16(r, 1)),
					"gen_current_l3":       Scaled(U16(r, 2)),
					"earth_current":        Scaled(U16(r, 3)),
					"mains_breaker_closed": Bit(r, 4, 0),
					"gen_breaker_closed":   Bit(r, 4, 1),
				}
			},
		},
		{
			Kind: KindActivePower, Address: AddrActivePower, MinCount: 5, Provisional: true,
			Extract: func(r []uint16) map[string]any {
				return map[string]any{
					"active_power_l1":    S16(r, 0),
					"active_power_l2":    S16(r, 1),
					"active_power_l3":    S16(r, 2),
					"active_power_total": S32(r, 3, powerTotalOrder),
				}
			},
		},
		{
			Kind: KindEnergy, Address: AddrEnergy, MinCount: 4, Provisional: true,
			Extract: func(r []uint16) map[string]any {
				return map[string]any{
					"active_energy_kwh":     U32(r, 0, energyWordsOrder),
					"reactive_energy_kvarh": U32(r, 2, energyWordsOrder),
				}
			},
		},
		{
			Kind: KindAlarm, Address: AddrAlarm, MinCount: 2,
			Extract: func(r []uint16) map[string]any {
				return map[string]any{
					"alarm_code":  U16(r, 0),
					"alarm_count": U16(r, 1),
				}
			},
		},
		{
			// high byte: operating mode; low byte bits 0..3: run/alarm/warning/remote start
			Kind: KindStatus, Address: AddrStatus, MinCount: 2, Provisional: true,
			Extract: func(r []uint16) map[string]any {
				return map[string]any{
					"operating_mode": HighByte(r, 0),
					"engine_running": Bit(r, 0, 0),
					"common_alarm":   Bit(r, 0, 1),
					"common_warning": Bit(r, 0, 2),
					"remote_start":   Bit(r, 0, 3),
					"status_code":    U16(r, 1),
				}
			},
		},
	}
}

// threePhase decodes the shared voltage/frequency layout of the generator and
// mains blocks: L-N x3, L-L x3, frequency, all in tenths.
func threePhase(prefix string, r []uint16) map[string]any {
	return map[string]any{
		prefix + "_voltage_l1n":  Scaled(U16(r, 0)),
		prefix + "_voltage_l2n":  Scaled(U16(r, 1)),
		prefix + "_voltage_l3n":  Scaled(U16(r, 2)),
		prefix + "_voltage_l1l2": Scaled(U16(r, 3)),
		prefix + "_voltage_l2l3": Scaled(U16(r, 4)),
		prefix + "_voltage_l3l1": Scaled(U16(r, 5)),
		prefix + "_frequency":    Scaled(U16(r, 6)),
	}
}
