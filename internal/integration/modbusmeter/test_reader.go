package modbusmeter

import "errors"

var errReadFailed = errors.New("modbus read failed")

func CreateTestMeterReader() (MeterReader, error) {
	return &TestMeterReader{}, nil
}

type TestMeterReader struct {
	FailReads bool
}

func (reader *TestMeterReader) Open() error {
	return nil
}

func (reader *TestMeterReader) Close() error {
	return nil
}

func (reader *TestMeterReader) GetInfo() (*MeterInfo, error) {
	return &MeterInfo{
		Manufacturer: "Hearth",
		Model:        "Smart Meter TS 100A-1",
		Version:      "1.2",
		Serial:       "00:11:22:33:44:55",
	}, nil
}

func (reader *TestMeterReader) GetPowerFlow() (*MeterPowerFlow, error) {
	if reader.FailReads {
		return nil, errReadFailed
	}
	return &MeterPowerFlow{
		PowerFlowWatt:          -1250,
		TotalEnergyExportedKWh: 2770.34,
		TotalEnergyImportedKWh: 550.22,
		Frequency:              50,
		PhaseAVoltage:          234.24,
	}, nil
}
