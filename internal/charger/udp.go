package charger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"
)

const (
	udpTimeout           = 2 * time.Second
	udpBufferSize        = 4096
	udpSourcePortDefault = 7090
)

// UDPClient talks the classic KEBA "report N" line protocol: an ASCII
// command is sent to a fixed endpoint and a JSON datagram comes back on
// the same socket. Grounded in the evcc Keba driver's net.DialUDP idiom
// and in the original source's exact CRLF-retry behavior.
type UDPClient struct {
	target     *net.UDPAddr
	timeout    time.Duration
	sourcePort int
}

// NewUDPClient resolves host:port once at construction time.
func NewUDPClient(host string, port int) (*UDPClient, error) {
	target, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, newError(OtherIO, fmt.Errorf("resolve keba endpoint: %w", err))
	}
	return &UDPClient{target: target, timeout: udpTimeout, sourcePort: udpSourcePortDefault}, nil
}

func (c *UDPClient) FetchPlugReport(ctx context.Context) (json.RawMessage, error) {
	return c.sendCommand(ctx, "report 2")
}

func (c *UDPClient) FetchEnergyReport(ctx context.Context) (json.RawMessage, error) {
	return c.sendCommand(ctx, "report 3")
}

func (c *UDPClient) sendCommand(ctx context.Context, command string) (json.RawMessage, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	response, err := c.sendPayload(conn, []byte(command+"\r\n"))
	if err == nil {
		return response, nil
	}

	var cerr *Error
	if errors.As(err, &cerr) && cerr.Kind == Timeout {
		// Stricter firmware variants reject the trailing CRLF; retry once
		// without it before giving up.
		return c.sendPayload(conn, []byte(command))
	}
	return nil, err
}

func (c *UDPClient) dial() (*net.UDPConn, error) {
	localAddr := &net.UDPAddr{IP: net.IPv4zero, Port: c.sourcePort}
	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		// Source port may already be bound by another process; fall back
		// to an ephemeral port.
		conn, err = net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
		if err != nil {
			return nil, newError(OtherIO, err)
		}
	}
	return conn, nil
}

func (c *UDPClient) sendPayload(conn *net.UDPConn, payload []byte) (json.RawMessage, error) {
	deadline := time.Now().Add(c.timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, newError(OtherIO, err)
	}

	if _, err := conn.WriteToUDP(payload, c.target); err != nil {
		return nil, classifyIOError(err)
	}

	buf := make([]byte, udpBufferSize)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, classifyIOError(err)
	}

	raw := json.RawMessage(append([]byte(nil), buf[:n]...))
	if !json.Valid(raw) {
		return nil, newError(DecodeError, fmt.Errorf("invalid json from keba udp endpoint"))
	}
	return raw, nil
}

func classifyIOError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(Timeout, err)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return newError(Timeout, err)
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return newError(ConnectionRefused, err)
	}

	return newError(OtherIO, err)
}
