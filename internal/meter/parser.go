// Package meter extracts power, energy, voltage, current, and temperature
// from OCPP 1.6 MeterValues sampled-value structures.
package meter

import "strconv"

// SampledValue is one entry of a MeterValues.meterValue[].sampledValue
// array, as described by OCPP 1.6J §4.2. Measurand, Phase, and Unit are
// optional on the wire; the zero value of each is treated as "absent".
type SampledValue struct {
	Value     string
	Measurand string
	Phase     string
	Unit      string
}

// Value is one meterValue[] entry: a timestamp and its sampled values.
// The timestamp is not consumed by Parse (callers stamp readings with
// their own clock) but is kept here to mirror the wire shape.
type Value struct {
	Timestamp     string         `json:"timestamp"`
	SampledValues []SampledValue `json:"sampledValue"`
}

// Reading is the fixed-width result of parsing a MeterValues request.
type Reading struct {
	PowerWatts   float64
	EnergyKWh    float64
	VoltageVolts float64
	CurrentAmps  float64
	TemperatureC float64
}

const (
	measurandPowerActiveImport  = "Power.Active.Import"
	measurandEnergyActiveImport = "Energy.Active.Import.Register"
	measurandVoltage            = "Voltage"
	measurandCurrentImport      = "Current.Import"
	measurandTemperature        = "Temperature"

	phaseL1N = "L1-N"

	unitKWh = "kWh"
)

// Parse extracts the last-sample-wins reading from a sequence of meter
// values. It is a pure function: identical input always yields identical
// output, unrecognized measurands are ignored, and missing or
// non-numeric values contribute 0 rather than erroring, since the
// station is never punished for a malformed sample.
func Parse(values []Value) Reading {
	var r Reading
	for _, mv := range values {
		for _, sv := range mv.SampledValues {
			measurand := sv.Measurand
			if measurand == "" {
				measurand = measurandEnergyActiveImport
			}

			value := parseFloat(sv.Value)

			switch measurand {
			case measurandPowerActiveImport:
				r.PowerWatts = value
			case measurandEnergyActiveImport:
				if sv.Unit == unitKWh {
					r.EnergyKWh = value
				} else {
					r.EnergyKWh = value / 1000
				}
			case measurandVoltage:
				if sv.Phase == phaseL1N {
					r.VoltageVolts = value
				}
			case measurandCurrentImport:
				if sv.Phase == phaseL1N {
					r.CurrentAmps = value
				}
			case measurandTemperature:
				r.TemperatureC = value
			}
		}
	}
	return r
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
