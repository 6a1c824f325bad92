// Package protocol encodes bitmaps into the command stream understood by
// GB01/GT01-family BLE thermal printers and decodes the notifications they
// send back.
//
// Every command is framed as
//
//	0x51 0x78 <op> 0x00 <len lo> <len hi> <payload...> <crc8(payload)> 0xFF
//
// where crc8 uses polynomial 0x07 with a zero initial value.
package protocol

import "encoding/binary"

// Frame markers
const (
	magic0    = 0x51
	magic1    = 0x78
	frameEnd  = 0xFF
	headerLen = 6
	footerLen = 2
)

// Opcode identifies a printer command.
type Opcode byte

const (
	OpFeedPaper      Opcode = 0xa1
	OpPrintRowPacked Opcode = 0xa2
	OpGetDeviceState Opcode = 0xa3
	OpSetQuality     Opcode = 0xa4
	OpLattice        Opcode = 0xa6
	OpFlowControl    Opcode = 0xae
	OpSetEnergy      Opcode = 0xaf
	OpApplyEnergy    Opcode = 0xbe
	OpPrintRowRLE    Opcode = 0xbf
)

const (
	quality200DPI  = 0x32
	printModeImage = 0x01
	maxFeedLines   = 0xFFFF
)

var (
	latticeStart = []byte{0xaa, 0x55, 0x17, 0x38, 0x44, 0x5f, 0x5f, 0x5f, 0x44, 0x38, 0x2c}
	latticeEnd   = []byte{0xaa, 0x55, 0x17, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x17}
)

var crc8Table = func() [256]byte {
	var t [256]byte
	for i := range t {
		c := byte(i)
		for b := 0; b < 8; b++ {
			if c&0x80 != 0 {
				c = c<<1 ^ 0x07
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

func crc8(data []byte) byte {
	var c byte
	for _, b := range data {
		c = crc8Table[c^b]
	}
	return c
}

// makeCommand frames payload under op.
func makeCommand(op Opcode, payload []byte) []byte {
	frame := make([]byte, 0, headerLen+len(payload)+footerLen)
	frame = append(frame, magic0, magic1, byte(op), 0x00)
	frame = binary.LittleEndian.AppendUint16(frame, uint16(len(payload)))
	frame = append(frame, payload...)
	return append(frame, crc8(payload), frameEnd)
}

// Asks the printer to report its state; the reply arrives as a notification.
func getDeviceState() []byte {
	return makeCommand(OpGetDeviceState, []byte{0x00})
}

func setQuality200DPI() []byte {
	return makeCommand(OpSetQuality, []byte{quality200DPI})
}

// Sets print-head energy, which controls darkness.
func setEnergy(energy uint16) []byte {
	return makeCommand(OpSetEnergy, binary.LittleEndian.AppendUint16(nil, energy))
}

func applyEnergy() []byte {
	return makeCommand(OpApplyEnergy, []byte{printModeImage})
}

func startLattice() []byte {
	return makeCommand(OpLattice, latticeStart)
}

func endLattice() []byte {
	return makeCommand(OpLattice, latticeEnd)
}

// Advances the paper by n dot lines.
func feedPaper(n uint16) []byte {
	return makeCommand(OpFeedPaper, binary.LittleEndian.AppendUint16(nil, n))
}

func printRowPacked(packed []byte) []byte {
	return makeCommand(OpPrintRowPacked, packed)
}

func printRowRLE(runs []byte) []byte {
	return makeCommand(OpPrintRowRLE, runs)
}
