package modbusmeter

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/simonvetter/modbus"
)

const (
	blockCommon     = 1
	blockACMeterMin = 201
	blockACMeterMax = 204
)

type MeterInfo struct {
	Manufacturer string
	Model        string
	Version      string
	Serial       string
}

type MeterPowerFlow struct {
	// Positive = import. Negative = export
	PowerFlowWatt          float64
	TotalEnergyImportedKWh float64
	TotalEnergyExportedKWh float64
	Frequency              float64
	PhaseAVoltage          float64
}

type MeterReader interface {
	Open() error
	Close() error
	GetInfo() (*MeterInfo, error)
	GetPowerFlow() (*MeterPowerFlow, error)
}

type meterModbusBlocks struct {
	common  uint16
	acMeter uint16
}

func (blk *meterModbusBlocks) AllBlocksDefined() bool {
	return blk.common > 0 && blk.acMeter > 0
}

// SunSpecMeterReader reads a SunSpec smart meter (models 201-204, int+SF)
// over Modbus TCP.
type SunSpecMeterReader struct {
	client *modbus.ModbusClient
	blocks meterModbusBlocks
}

func CreateSunSpecMeterReader(host string, port uint, unitId uint8, timeout time.Duration) (MeterReader, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", host, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	if err := client.SetUnitId(unitId); err != nil {
		return nil, err
	}
	return &SunSpecMeterReader{
		client: client,
	}, nil
}

func (reader *SunSpecMeterReader) Open() error {
	if err := reader.client.Open(); err != nil {
		return err
	}
	if err := reader.survey(); err != nil {
		return err
	}
	return nil
}

func (reader *SunSpecMeterReader) Close() error {
	return reader.client.Close()
}

func (reader *SunSpecMeterReader) GetInfo() (*MeterInfo, error) {
	manufacturer, err := reader.readString(reader.blocks.common+2, 32)
	if err != nil {
		return nil, err
	}
	model, err := reader.readString(reader.blocks.common+18, 32)
	if err != nil {
		return nil, err
	}
	version, err := reader.readString(reader.blocks.common+42, 16)
	if err != nil {
		return nil, err
	}
	serial, err := reader.readString(reader.blocks.common+50, 32)
	if err != nil {
		return nil, err
	}

	return &MeterInfo{
		Manufacturer: manufacturer,
		Model:        model,
		Version:      version,
		Serial:       serial,
	}, nil
}

func (reader *SunSpecMeterReader) GetPowerFlow() (*MeterPowerFlow, error) {
	totalRealPower, err := reader.readRegister(reader.blocks.acMeter + 18)
	if err != nil {
		return nil, err
	}
	totalRealPowerSF, err := reader.readRegister(reader.blocks.acMeter + 22)
	if err != nil {
		return nil, err
	}
	totalEnergyExported, err := reader.readUint32(reader.blocks.acMeter + 38)
	if err != nil {
		return nil, err
	}
	totalEnergyImported, err := reader.readUint32(reader.blocks.acMeter + 46)
	if err != nil {
		return nil, err
	}
	totWhSF, err := reader.readRegister(reader.blocks.acMeter + 54)
	if err != nil {
		return nil, err
	}
	freq, err := reader.readRegisters(reader.blocks.acMeter+16, 2)
	if err != nil {
		return nil, err
	}
	phaseAVoltage, err := reader.readRegister(reader.blocks.acMeter + 8)
	if err != nil {
		return nil, err
	}
	phaseAVoltageSF, err := reader.readRegister(reader.blocks.acMeter + 15)
	if err != nil {
		return nil, err
	}

	return &MeterPowerFlow{
		PowerFlowWatt:          applySFint16(int16(totalRealPower), totalRealPowerSF),
		TotalEnergyExportedKWh: applySFuint32(totalEnergyExported, totWhSF) / 1000,
		TotalEnergyImportedKWh: applySFuint32(totalEnergyImported, totWhSF) / 1000,
		Frequency:              applySF(freq[0], freq[1]),
		PhaseAVoltage:          applySF(phaseAVoltage, phaseAVoltageSF),
	}, nil
}

func (reader *SunSpecMeterReader) survey() error {

	// check SunSpec
	str, err := reader.readString(40000, 4)
	if err != nil {
		return err
	}
	if str != "SunS" {
		return errors.New("could not find a SunSpec smart meter")
	}

	// survey blocks
	blocks := meterModbusBlocks{}
	var baseAddr uint16 = 40002
	n := 0
	for {
		id, err := reader.readRegister(baseAddr)
		if err != nil {
			return err
		}
		if id == 0xFFFF {
			break
		}
		length, err := reader.readRegister(baseAddr + 1)
		if err != nil {
			return err
		}
		switch {
		case id == blockCommon:
			blocks.common = baseAddr
		case id >= blockACMeterMin && id <= blockACMeterMax:
			blocks.acMeter = baseAddr
		}
		baseAddr = baseAddr + length + 2
		// ensure the loop has an ending
		if blocks.AllBlocksDefined() || n > 10 {
			break
		}
		n++
	}
	if !blocks.AllBlocksDefined() {
		return errors.New("could not find all required sunspec blocks (common, ac_meter)")
	}
	reader.blocks = blocks
	return nil
}

func (reader *SunSpecMeterReader) readString(address uint16, size uint16) (string, error) {
	bytes, err := reader.client.ReadRawBytes(address, size, modbus.HOLDING_REGISTER)
	if err != nil {
		return "", err
	}
	f := slices.Index(bytes, 0x00)
	if f >= 0 {
		return string(bytes[:f]), nil
	}
	return string(bytes), nil
}

func (reader *SunSpecMeterReader) readRegister(addr uint16) (uint16, error) {
	return reader.client.ReadRegister(addr, modbus.HOLDING_REGISTER)
}

func (reader *SunSpecMeterReader) readRegisters(addr uint16, quantity uint16) ([]uint16, error) {
	return reader.client.ReadRegisters(addr, quantity, modbus.HOLDING_REGISTER)
}

func (reader *SunSpecMeterReader) readUint32(addr uint16) (uint32, error) {
	return reader.client.ReadUint32(addr, modbus.HOLDING_REGISTER)
}

func applySF(number uint16, sf uint16) float64 {
	return float64(number) * math.Pow(10, float64(int16(sf)))
}

func applySFint16(number int16, sf uint16) float64 {
	return float64(number) * math.Pow(10, float64(int16(sf)))
}

func applySFuint32(number uint32, sf uint16) float64 {
	return float64(number) * math.Pow(10, float64(int16(sf)))
}
