package output

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tarm/serial"
	"go.uber.org/zap"

	"github.com/atrep123/dmx-core/dmx"
	"github.com/atrep123/dmx-core/errors"
)

// DMX-USB-PRO "Send DMX" framing.
const (
	enttecStartByte = 0x7E
	enttecEndByte   = 0xE7
	enttecSendLabel = 0x06
	dmxStartCode    = 0x00
)

// PortState tracks the serial device lifecycle:
// Closed -> Opening -> Open -> Broken -> Opening -> ...
type PortState int32

const (
	PortClosed PortState = iota
	PortOpening
	PortOpen
	PortBroken
)

func (s PortState) String() string {
	switch s {
	case PortOpening:
		return "opening"
	case PortOpen:
		return "open"
	case PortBroken:
		return "broken"
	default:
		return "closed"
	}
}

// serialPort is the subset of *serial.Port the driver uses; swapped in tests.
type serialPort interface {
	Write(p []byte) (int, error)
	Close() error
}

// EnttecSender frames output for an Enttec DMX-USB-PRO on a USB serial port.
// Write failures trigger a bounded close/reopen cycle; after the configured
// attempts the frame is dropped (fail-open).
type EnttecSender struct {
	portName          string
	baud              int
	reconnectAttempts int
	log               *zap.SugaredLogger

	openPort func() (serialPort, error)

	mu    sync.Mutex
	port  serialPort
	state PortState
}

// NewEnttecSender builds the serial back-end. The port opens lazily on the
// first frame.
func NewEnttecSender(portName string, baud, reconnectAttempts int, log *zap.SugaredLogger) *EnttecSender {
	if baud <= 0 {
		baud = 57600
	}
	if reconnectAttempts <= 0 {
		reconnectAttempts = 3
	}
	e := &EnttecSender{
		portName:          portName,
		baud:              baud,
		reconnectAttempts: reconnectAttempts,
		log:               log,
		state:             PortClosed,
	}
	e.openPort = func() (serialPort, error) {
		return serial.OpenPort(&serial.Config{
			Name:        portName,
			Baud:        baud,
			ReadTimeout: time.Second,
		})
	}
	return e
}

// BuildFrame assembles the wire bytes:
// 0x7E 0x06 len_lo len_hi startCode slot[1..512] 0xE7 with len = 513.
func BuildFrame(frame []byte) []byte {
	payloadLen := dmx.FrameSize + 1
	out := make([]byte, 0, payloadLen+5)
	out = append(out, enttecStartByte, enttecSendLabel, byte(payloadLen&0xFF), byte(payloadLen>>8), dmxStartCode)
	var padded [dmx.FrameSize]byte
	copy(padded[:], frame)
	out = append(out, padded[:]...)
	out = append(out, enttecEndByte)
	return out
}

// SendFrame implements Sender. The transport universe is ignored: one Enttec
// device drives exactly one universe.
func (e *EnttecSender) SendFrame(ctx context.Context, _ int, frame []byte) error {
	packet := BuildFrame(frame)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.port == nil {
		if err := e.openLocked(); err != nil {
			return &TransportError{Code: "error", Err: err}
		}
	}

	bo := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(50*time.Millisecond),
		backoff.WithMaxInterval(500*time.Millisecond),
	), ctx)

	var lastErr error
	for attempt := 0; attempt <= e.reconnectAttempts; attempt++ {
		if e.port != nil {
			if _, err := e.port.Write(packet); err == nil {
				e.state = PortOpen
				return nil
			} else {
				lastErr = err
				e.state = PortBroken
				e.log.Warnw("Enttec write failed", "attempt", attempt+1, "error", err)
			}
		}
		if attempt == e.reconnectAttempts {
			break
		}
		next := bo.NextBackOff()
		if next == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return &TransportError{Code: "timeout", Err: ctx.Err()}
		case <-time.After(next):
		}
		e.reopenLocked()
	}

	e.log.Errorw("Enttec frame dropped", "port", e.portName, "error", lastErr)
	return &TransportError{Code: "error", Err: errors.Wrap(lastErr, "enttec write dropped")}
}

// openLocked requires e.mu held.
func (e *EnttecSender) openLocked() error {
	e.state = PortOpening
	port, err := e.openPort()
	if err != nil {
		e.state = PortBroken
		return errors.Wrapf(err, "failed to open serial port %s", e.portName)
	}
	e.port = port
	e.state = PortOpen
	return nil
}

// reopenLocked closes and reopens the device. Requires e.mu held.
func (e *EnttecSender) reopenLocked() {
	if e.port != nil {
		_ = e.port.Close()
		e.port = nil
	}
	if err := e.openLocked(); err != nil {
		e.log.Warnw("Enttec reconnect failed", "port", e.portName, "error", err)
	}
}

// State returns the current port state.
func (e *EnttecSender) State() PortState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Close implements Sender.
func (e *EnttecSender) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.port == nil {
		e.state = PortClosed
		return nil
	}
	err := e.port.Close()
	e.port = nil
	e.state = PortClosed
	return err
}
