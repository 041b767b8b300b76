// internal/plc/mc/frame.go
package mc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MC protocol 3E binary frame, M-relay device only.
//
// Request:
//   subheader(2)=50 00  network(1)=00  pc(1)=FF  io(2)=FF 03  station(1)=00
//   length(2, LE)  timer(2)=10 00
//   command(2, LE)  subcommand(2, LE)
//   device address(3, LE)  device code(1)=90
//   points(2, LE)  [values]
//
// Response:
//   subheader(2)=D0 00  network(1)  pc(1)  io(2)  station(1)
//   length(2, LE)  end code(2, LE)  data(length-2)

const (
	CmdBatchRead  uint16 = 0x0401
	CmdBatchWrite uint16 = 0x1401
	SubBitUnits   uint16 = 0x0001
	DeviceM       byte   = 0x90

	// BitOn / BitOff are the nibble-packed values for one written point.
	BitOn  byte = 0x10
	BitOff byte = 0x00

	// ResponseHeaderLen covers everything up to and including the end code.
	ResponseHeaderLen = 11

	// maxResponseData guards allocation against a corrupt length field.
	maxResponseData = 4096
)

var (
	ErrBadSubheader = errors.New("mc: bad response subheader")
	ErrBadLength    = errors.New("mc: bad response length")
)

// EndCodeError is a protocol-level rejection reported by the PLC.
type EndCodeError struct {
	Code uint16
}

func (e *EndCodeError) Error() string {
	return fmt.Sprintf("mc: end code 0x%04X", e.Code)
}

// Response is a decoded 3E reply.
type Response struct {
	EndCode uint16
	Data    []byte
}

// ---- requests ----

// BuildRead encodes a batch read of count M-relays starting at start.
func BuildRead(start, count int) []byte {
	body := make([]byte, 0, 12)
	body = appendCommand(body, CmdBatchRead, start)
	body = binary.LittleEndian.AppendUint16(body, uint16(count))
	return frame(body)
}

// BuildWrite encodes a single-point write of M<addr>.
func BuildWrite(addr int, on bool) []byte {
	v := BitOff
	if on {
		v = BitOn
	}
	body := make([]byte, 0, 13)
	body = appendCommand(body, CmdBatchWrite, addr)
	body = binary.LittleEndian.AppendUint16(body, 1)
	body = append(body, v)
	return frame(body)
}

// appendCommand writes timer, command, subcommand and device address.
func appendCommand(b []byte, cmd uint16, addr int) []byte {
	b = append(b, 0x10, 0x00) // monitoring timer, 16 x 250ms
	b = binary.LittleEndian.AppendUint16(b, cmd)
	b = binary.LittleEndian.AppendUint16(b, SubBitUnits)
	b = append(b, byte(addr), byte(addr>>8), byte(addr>>16))
	return append(b, DeviceM)
}

// frame prefixes body with the fixed access route and its length.
func frame(body []byte) []byte {
	out := make([]byte, 0, 9+len(body))
	out = append(out, 0x50, 0x00, 0x00, 0xFF, 0xFF, 0x03, 0x00)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(body)))
	return append(out, body...)
}

// ---- responses ----

// ExpectedDataLen is the data byte count of a successful read of count points.
func ExpectedDataLen(count int) int {
	return (count + 1) / 2
}

// ReadResponse reads exactly one response frame from r.
// A nonzero end code is returned as *EndCodeError along with the response.
func ReadResponse(r io.Reader) (Response, error) {
	var hdr [ResponseHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Response{}, fmt.Errorf("mc: read header: %w", err)
	}
	if hdr[0] != 0xD0 || hdr[1] != 0x00 {
		return Response{}, fmt.Errorf("%w: % X", ErrBadSubheader, hdr[0:2])
	}

	length := int(binary.LittleEndian.Uint16(hdr[7:9]))
	if length < 2 || length-2 > maxResponseData {
		return Response{}, fmt.Errorf("%w: %d", ErrBadLength, length)
	}

	resp := Response{EndCode: binary.LittleEndian.Uint16(hdr[9:11])}
	if n := length - 2; n > 0 {
		resp.Data = make([]byte, n)
		if _, err := io.ReadFull(r, resp.Data); err != nil {
			return Response{}, fmt.Errorf("mc: read data: %w", err)
		}
	}

	if resp.EndCode != 0 {
		return resp, &EndCodeError{Code: resp.EndCode}
	}
	return resp, nil
}

// ReadBits reads a batch-read reply and enforces the exact data length.
func ReadBits(r io.Reader, count int) ([]byte, error) {
	resp, err := ReadResponse(r)
	if err != nil {
		return nil, err
	}
	if want := ExpectedDataLen(count); len(resp.Data) != want {
		return nil, fmt.Errorf("%w: got %d data bytes, want %d", ErrBadLength, len(resp.Data), want)
	}
	return resp.Data, nil
}

// ---- bit access ----

// Bit returns the state of M<addr> inside a read block starting at base.
// Two points per byte: even offset in the high nibble (0x10), odd in the low (0x01).
func Bit(raw []byte, base, addr int) bool {
	off := addr - base
	if off < 0 {
		return false
	}
	idx := off / 2
	if idx >= len(raw) {
		return false
	}
	if off%2 == 0 {
		return raw[idx]&0x10 != 0
	}
	return raw[idx]&0x01 != 0
}
