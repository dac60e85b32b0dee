package sacn

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPacket assembles a valid E1.31 data packet for tests.
func buildPacket(universe int, priority int, seq uint8, cid [16]byte, name string, dmx []byte) []byte {
	propCount := len(dmx) + 1
	pkt := make([]byte, 126+len(dmx))

	binary.BigEndian.PutUint16(pkt[0:2], 0x0010)
	binary.BigEndian.PutUint16(pkt[2:4], 0x0000)
	copy(pkt[4:16], packetIdentifier)
	binary.BigEndian.PutUint16(pkt[16:18], 0x7000|uint16(len(pkt)-16)) // root flags+len
	binary.BigEndian.PutUint32(pkt[18:22], rootVectorData)
	copy(pkt[22:38], cid[:])
	binary.BigEndian.PutUint16(pkt[38:40], 0x7000|uint16(len(pkt)-38)) // framing flags+len
	binary.BigEndian.PutUint32(pkt[40:44], framingVectorDMP)
	copy(pkt[44:108], name)
	pkt[108] = byte(priority)
	binary.BigEndian.PutUint16(pkt[109:111], 0) // sync address
	pkt[111] = seq
	pkt[112] = 0 // options
	binary.BigEndian.PutUint16(pkt[113:115], uint16(universe))
	binary.BigEndian.PutUint16(pkt[115:117], 0x7000|uint16(len(pkt)-115)) // DMP flags+len
	pkt[117] = dmpVectorSetProp
	pkt[118] = 0xA1 // address & data type
	binary.BigEndian.PutUint16(pkt[119:121], 0)
	binary.BigEndian.PutUint16(pkt[121:123], 1)
	binary.BigEndian.PutUint16(pkt[123:125], uint16(propCount))
	pkt[125] = 0x00 // start code
	copy(pkt[126:], dmx)
	return pkt
}

func testCID(b byte) [16]byte {
	var cid [16]byte
	for i := range cid {
		cid[i] = b
	}
	return cid
}

func TestParseValidPacket(t *testing.T) {
	dmx := make([]byte, 512)
	dmx[0] = 10
	dmx[511] = 255
	raw := buildPacket(7, 150, 42, testCID(0xAB), "console-a", dmx)

	pkt, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, 7, pkt.Universe)
	assert.Equal(t, 150, pkt.Priority)
	assert.Equal(t, uint8(42), pkt.Seq)
	assert.Equal(t, testCID(0xAB), pkt.CID)
	assert.Equal(t, "console-a", pkt.SourceName)
	assert.Equal(t, byte(10), pkt.DMX[0])
	assert.Equal(t, byte(255), pkt.DMX[511])
}

func TestParsePadsShortPayload(t *testing.T) {
	raw := buildPacket(1, 100, 0, testCID(1), "short", []byte{9, 8, 7})
	pkt, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, byte(9), pkt.DMX[0])
	assert.Equal(t, byte(7), pkt.DMX[2])
	assert.Equal(t, byte(0), pkt.DMX[3])
}

func TestParseRejections(t *testing.T) {
	valid := buildPacket(1, 100, 0, testCID(1), "x", make([]byte, 512))

	short := valid[:100]
	_, err := Parse(short)
	assert.Error(t, err)

	badPreamble := append([]byte(nil), valid...)
	badPreamble[0] = 0xFF
	_, err = Parse(badPreamble)
	assert.Error(t, err)

	badPID := append([]byte(nil), valid...)
	badPID[4] = 'X'
	_, err = Parse(badPID)
	assert.Error(t, err)

	badRootVector := append([]byte(nil), valid...)
	badRootVector[21] = 0x09
	_, err = Parse(badRootVector)
	assert.Error(t, err)

	badDMPVector := append([]byte(nil), valid...)
	badDMPVector[117] = 0x01
	_, err = Parse(badDMPVector)
	assert.Error(t, err)

	altStartCode := append([]byte(nil), valid...)
	altStartCode[125] = 0xCC // RDM start code: not level data
	_, err = Parse(altStartCode)
	assert.Error(t, err)

	badCount := append([]byte(nil), valid...)
	binary.BigEndian.PutUint16(badCount[123:125], 600)
	_, err = Parse(badCount)
	assert.Error(t, err)
}

func TestParseUniversesSpec(t *testing.T) {
	f := ParseUniverses("0,1,10-12")
	assert.True(t, f.Allows(0))
	assert.True(t, f.Allows(11))
	assert.True(t, f.Allows(12))
	assert.False(t, f.Allows(2))

	// Reversed ranges normalize; junk is skipped.
	f = ParseUniverses("5-3, x, 9")
	assert.True(t, f.Allows(4))
	assert.True(t, f.Allows(9))
	assert.False(t, f.Allows(10))

	// Empty spec accepts everything.
	assert.True(t, ParseUniverses("").Allows(12345))
}
