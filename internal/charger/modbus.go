package charger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goburrow/modbus"
)

const (
	modbusTimeout = 2 * time.Second

	// KEBA register map (Modbus TCP), grounded in the original Rust
	// keba_modbus adapter: state is a 2-register input block, the two
	// energy counters are each a 2-register input block.
	regState          = 1000
	regTotalEnergy     = 1036
	regPresentEnergy   = 1502
	registerBlockWords = 2
)

// ModbusClient reads the KEBA register map over Modbus-TCP. A fresh
// connection is opened per read since the protocol here is stateless and
// the charger firmware does not reliably keep long-lived TCP sessions
// alive.
type ModbusClient struct {
	address      string
	unitID       byte
	energyFactor float64
}

// NewModbusClient builds a client targeting host:port with the given slave
// unit id and Wh-per-register-count scaling factor.
func NewModbusClient(host string, port, unitID int, energyFactorWh float64) *ModbusClient {
	return &ModbusClient{
		address:      fmt.Sprintf("%s:%d", host, port),
		unitID:       byte(unitID),
		energyFactor: energyFactorWh,
	}
}

func (c *ModbusClient) FetchPlugReport(ctx context.Context) (json.RawMessage, error) {
	state, err := c.readInputU32(regState)
	if err != nil {
		return nil, err
	}
	plugged := 0
	if state >= 2 {
		plugged = 1
	}
	return json.Marshal(map[string]any{
		"Plug":  plugged,
		"State": state,
	})
}

func (c *ModbusClient) FetchEnergyReport(ctx context.Context) (json.RawMessage, error) {
	present, err := c.readInputU32(regPresentEnergy)
	if err != nil {
		return nil, err
	}
	total, err := c.readInputU32(regTotalEnergy)
	if err != nil {
		return nil, err
	}

	presentKWh := float64(present) * c.energyFactor / 1000.0
	totalKWh := float64(total) * c.energyFactor / 1000.0

	return json.Marshal(map[string]any{
		"Energy (present session)": presentKWh,
		"Energy (total)":           totalKWh,
	})
}

func (c *ModbusClient) readInputU32(address uint16) (uint32, error) {
	handler := modbus.NewTCPClientHandler(c.address)
	handler.Timeout = modbusTimeout
	handler.SlaveId = c.unitID

	if err := handler.Connect(); err != nil {
		return 0, classifyModbusError(err)
	}
	defer handler.Close()

	client := modbus.NewClient(handler)
	result, err := client.ReadInputRegisters(address, registerBlockWords)
	if err != nil {
		return 0, classifyModbusError(err)
	}
	if len(result) < 4 {
		return 0, newError(DecodeError, fmt.Errorf("modbus response too short: %d bytes", len(result)))
	}

	return binary.BigEndian.Uint32(result[:4]), nil
}

func classifyModbusError(err error) error {
	if err == nil {
		return nil
	}
	return newError(OtherIO, err)
}
