// Package sacn receives streaming ACN (E1.31) DMX over UDP, tracks sources
// per (universe, CID), and composites them by priority and HTP into the
// engine's sACN layer.
package sacn

import (
	"bytes"
	"encoding/binary"

	"github.com/atrep123/dmx-core/errors"
)

// packetIdentifier is the fixed ACN root-layer id.
var packetIdentifier = []byte("ASC-E1.17\x00\x00\x00")

const (
	rootVectorData   = 0x00000004
	framingVectorDMP = 0x00000002
	dmpVectorSetProp = 0x02
	minPacketLen     = 126
)

// Packet is a parsed E1.31 data packet.
type Packet struct {
	Universe   int
	Priority   int
	Seq        uint8
	CID        [16]byte
	SourceName string
	StartCode  byte
	DMX        [512]byte
}

// Parse validates the fixed-offset E1.31 layout and extracts the DMX payload,
// right-padded to 512 slots. Only start code 0x00 (DMX512 level data) is
// accepted.
func Parse(data []byte) (*Packet, error) {
	if len(data) < minPacketLen {
		return nil, errors.New("packet too short")
	}
	if binary.BigEndian.Uint16(data[0:2]) != 0x0010 {
		return nil, errors.New("bad preamble size")
	}
	if binary.BigEndian.Uint16(data[2:4]) != 0x0000 {
		return nil, errors.New("bad postamble size")
	}
	if !bytes.Equal(data[4:16], packetIdentifier) {
		return nil, errors.New("bad ACN packet identifier")
	}
	if binary.BigEndian.Uint32(data[18:22]) != rootVectorData {
		return nil, errors.New("not a data packet")
	}
	if binary.BigEndian.Uint32(data[40:44]) != framingVectorDMP {
		return nil, errors.New("bad framing vector")
	}
	if data[117] != dmpVectorSetProp {
		return nil, errors.New("bad DMP vector")
	}

	propCount := int(binary.BigEndian.Uint16(data[123:125]))
	if propCount < 1 || propCount > 513 {
		return nil, errors.Newf("bad property value count %d", propCount)
	}
	if len(data) < 125+propCount {
		return nil, errors.New("truncated property values")
	}
	startCode := data[125]
	if startCode != 0x00 {
		return nil, errors.Newf("unsupported start code 0x%02x", startCode)
	}

	p := &Packet{
		Universe:  int(binary.BigEndian.Uint16(data[113:115])),
		Priority:  int(data[108]),
		Seq:       data[111],
		StartCode: startCode,
	}
	copy(p.CID[:], data[22:38])

	name := data[44:108]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	p.SourceName = string(name)

	copy(p.DMX[:], data[126:125+propCount])
	return p, nil
}
