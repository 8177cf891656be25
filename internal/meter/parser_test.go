package meter

import "testing"

func TestParseRecognizedMeasurands(t *testing.T) {
	values := []Value{
		{SampledValues: []SampledValue{
			{Measurand: "Power.Active.Import", Value: "1500"},
			{Measurand: "Energy.Active.Import.Register", Value: "2400"},
			{Measurand: "Voltage", Phase: "L1-N", Value: "230"},
			{Measurand: "Current.Import", Phase: "L1-N", Value: "6.5"},
		}},
	}
	got := Parse(values)
	want := Reading{PowerWatts: 1500, EnergyKWh: 2.4, VoltageVolts: 230, CurrentAmps: 6.5}
	if got != want {
		t.Errorf("Parse() = %+v, want %+v", got, want)
	}
}

func TestParseEnergyUnitKWh(t *testing.T) {
	values := []Value{
		{SampledValues: []SampledValue{
			{Measurand: "Energy.Active.Import.Register", Value: "3.6", Unit: "kWh"},
		}},
	}
	got := Parse(values)
	if got.EnergyKWh != 3.6 {
		t.Errorf("EnergyKWh = %v, want 3.6", got.EnergyKWh)
	}
}

func TestParseMissingMeasurandDefaultsToEnergy(t *testing.T) {
	values := []Value{
		{SampledValues: []SampledValue{{Value: "5000"}}},
	}
	got := Parse(values)
	if got.EnergyKWh != 5 {
		t.Errorf("EnergyKWh = %v, want 5 (default Wh->kWh)", got.EnergyKWh)
	}
}

func TestParseNonNumericValueYieldsZero(t *testing.T) {
	values := []Value{
		{SampledValues: []SampledValue{{Measurand: "Power.Active.Import", Value: "not-a-number"}}},
	}
	got := Parse(values)
	if got.PowerWatts != 0 {
		t.Errorf("PowerWatts = %v, want 0", got.PowerWatts)
	}
}

func TestParseIgnoresUnrecognizedMeasurand(t *testing.T) {
	values := []Value{
		{SampledValues: []SampledValue{
			{Measurand: "Power.Active.Import", Value: "1000"},
			{Measurand: "SoC", Value: "80"},
		}},
	}
	got := Parse(values)
	if got.PowerWatts != 1000 {
		t.Errorf("PowerWatts = %v, want 1000", got.PowerWatts)
	}
}

func TestParseVoltageRequiresL1NPhase(t *testing.T) {
	values := []Value{
		{SampledValues: []SampledValue{{Measurand: "Voltage", Phase: "L2-N", Value: "230"}}},
	}
	got := Parse(values)
	if got.VoltageVolts != 0 {
		t.Errorf("VoltageVolts = %v, want 0 for non-L1-N phase", got.VoltageVolts)
	}
}

func TestParseLastSampleWins(t *testing.T) {
	values := []Value{
		{SampledValues: []SampledValue{{Measurand: "Power.Active.Import", Value: "100"}}},
		{SampledValues: []SampledValue{{Measurand: "Power.Active.Import", Value: "200"}}},
	}
	got := Parse(values)
	if got.PowerWatts != 200 {
		t.Errorf("PowerWatts = %v, want 200 (last sample wins)", got.PowerWatts)
	}
}

func TestParseIsPure(t *testing.T) {
	values := []Value{
		{SampledValues: []SampledValue{{Measurand: "Power.Active.Import", Value: "42"}}},
	}
	first := Parse(values)
	second := Parse(values)
	if first != second {
		t.Errorf("Parse is not pure: %+v != %+v", first, second)
	}
}

func TestParseEmpty(t *testing.T) {
	got := Parse(nil)
	if got != (Reading{}) {
		t.Errorf("Parse(nil) = %+v, want zero value", got)
	}
}
