// Package input reads DMX channel levels from a SparkFun DMX shield logging
// over USB serial and feeds them into the command pipeline as single-channel
// patches.
package input

import (
	"bufio"
	"context"
	"io"
	"regexp"
	"strconv"

	"github.com/tarm/serial"
	"go.uber.org/zap"

	"github.com/atrep123/dmx-core/errors"
)

// lineRE matches the ESP32 sample firmware output, e.g.
// "DMX: read value from channel 12 : 255".
var lineRE = regexp.MustCompile(`(?i)DMX:\s*read value from channel\s+(\d+)\s*:\s*(\d+)`)

// ParseLine extracts (channel, value) from one log line. Returns ok=false for
// anything malformed or out of range.
func ParseLine(line string) (ch, val int, ok bool) {
	m := lineRE.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, false
	}
	ch, err1 := strconv.Atoi(m[1])
	val, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	if ch < 1 || ch > 512 || val < 0 || val > 255 {
		return 0, 0, false
	}
	return ch, val, true
}

// OnChannel receives each parsed channel update.
type OnChannel func(ch, val int)

// SerialDMXInput tails a serial port line by line.
type SerialDMXInput struct {
	portName  string
	baud      int
	log       *zap.SugaredLogger
	onChannel OnChannel

	open func() (io.ReadCloser, error)
}

// NewSerialDMXInput builds the reader; the port opens in Run.
func NewSerialDMXInput(portName string, baud int, log *zap.SugaredLogger, onChannel OnChannel) *SerialDMXInput {
	in := &SerialDMXInput{
		portName:  portName,
		baud:      baud,
		log:       log,
		onChannel: onChannel,
	}
	in.open = func() (io.ReadCloser, error) {
		// Blocking reads; cancellation closes the port out from under the
		// scanner.
		port, err := serial.OpenPort(&serial.Config{Name: portName, Baud: baud})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open DMX input port %s", portName)
		}
		return port, nil
	}
	return in
}

// Run reads until ctx is cancelled or the port fails terminally.
func (in *SerialDMXInput) Run(ctx context.Context) error {
	port, err := in.open()
	if err != nil {
		return err
	}
	defer port.Close()

	// Unblock the scanner when the context goes away; the port read then
	// fails and the loop exits.
	go func() {
		<-ctx.Done()
		port.Close()
	}()

	in.log.Infow("DMX input reader started", "port", in.portName, "baud", in.baud)
	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		ch, val, ok := ParseLine(scanner.Text())
		if !ok {
			continue
		}
		in.onChannel(ch, val)
	}
	if ctx.Err() != nil {
		return nil
	}
	return errors.Wrap(scanner.Err(), "DMX input reader stopped")
}
