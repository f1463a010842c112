package charger

import (
	"errors"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeTimeoutError struct{}

func (fakeTimeoutError) Error() string   { return "fake timeout" }
func (fakeTimeoutError) Timeout() bool   { return true }
func (fakeTimeoutError) Temporary() bool { return true }

func TestClassifyIOError_NetTimeoutMapsToTimeout(t *testing.T) {
	err := classifyIOError(fakeTimeoutError{})
	var cerr *Error
	assert.True(t, errors.As(err, &cerr))
	assert.Equal(t, Timeout, cerr.Kind)
}

func TestClassifyIOError_DeadlineExceededMapsToTimeout(t *testing.T) {
	err := classifyIOError(os.ErrDeadlineExceeded)
	var cerr *Error
	assert.True(t, errors.As(err, &cerr))
	assert.Equal(t, Timeout, cerr.Kind)
}

func TestClassifyIOError_ConnectionRefusedMapsCorrectly(t *testing.T) {
	err := classifyIOError(&net.OpError{Op: "write", Err: syscall.ECONNREFUSED})
	var cerr *Error
	assert.True(t, errors.As(err, &cerr))
	assert.Equal(t, ConnectionRefused, cerr.Kind)
}

func TestClassifyIOError_UnrecognizedErrorMapsToOtherIO(t *testing.T) {
	err := classifyIOError(errors.New("mystery failure"))
	var cerr *Error
	assert.True(t, errors.As(err, &cerr))
	assert.Equal(t, OtherIO, cerr.Kind)
}

func TestNewUDPClient_ResolvesTarget(t *testing.T) {
	client, err := NewUDPClient("127.0.0.1", 7090)
	assert.NoError(t, err)
	assert.NotNil(t, client.target)
	assert.Equal(t, udpTimeout, client.timeout)
}
