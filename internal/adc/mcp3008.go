package adc

import (
	"context"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/sweeney/mux-scanner/internal/logic"
)

// MCP3008MaxSpeed is the datasheet clock limit at 2.7 V.
const MCP3008MaxSpeed = 1 * physic.MegaHertz

// MCP3008 reads one single-ended input of an MCP3008 10-bit converter over SPI.
// The multiplexer output is wired to Input.
type MCP3008 struct {
	mu    sync.Mutex
	port  spi.PortCloser
	conn  spi.Conn
	input int
}

// NewMCP3008 initializes periph.io, opens the SPI port (empty name selects the
// first available port) and connects at speed.
func NewMCP3008(portName string, speed physic.Frequency, input int) (*MCP3008, error) {
	if input < 0 || input > 7 {
		return nil, fmt.Errorf("mcp3008 input %d out of range", input)
	}
	if speed <= 0 || speed > MCP3008MaxSpeed {
		speed = MCP3008MaxSpeed
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("open spi %q: %w", portName, err)
	}
	conn, err := port.Connect(speed, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("connect spi: %w", err)
	}
	return &MCP3008{port: port, conn: conn, input: input}, nil
}

// Acquire performs one single-ended conversion. Concurrent callers are
// serialized.
func (m *MCP3008) Acquire(ctx context.Context, addr logic.Address) (uint16, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rx := make([]byte, 3)
	if err := m.conn.Tx(mcp3008Command(m.input), rx); err != nil {
		return 0, fmt.Errorf("spi tx: %w", err)
	}
	return mcp3008Value(rx), nil
}

// Close releases the SPI port.
func (m *MCP3008) Close() error {
	if m.port != nil {
		return m.port.Close()
	}
	return nil
}

// mcp3008Command is the start bit followed by single-ended mode and the input
// number in the high nibble of the second byte.
func mcp3008Command(input int) []byte {
	return []byte{0x01, byte((8 + input) << 4), 0x00}
}

func mcp3008Value(rx []byte) uint16 {
	return (uint16(rx[1])<<8 | uint16(rx[2])) & 0x3FF
}
