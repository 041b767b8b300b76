// internal/plc/mc/frame_test.go
package mc

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func response(endCode uint16, data []byte) []byte {
	n := len(data) + 2
	out := []byte{0xD0, 0x00, 0x00, 0xFF, 0xFF, 0x03, 0x00, byte(n), byte(n >> 8), byte(endCode), byte(endCode >> 8)}
	return append(out, data...)
}

func TestBuildRead_Layout(t *testing.T) {
	got := BuildRead(500, 150)
	want := []byte{
		0x50, 0x00, 0x00, 0xFF, 0xFF, 0x03, 0x00,
		0x0C, 0x00,
		0x10, 0x00,
		0x01, 0x04, 0x01, 0x00,
		0xF4, 0x01, 0x00, 0x90,
		0x96, 0x00,
	}
	assert.Equal(t, want, got)
}

func TestBuildWrite_Layout(t *testing.T) {
	on := BuildWrite(700, true)
	want := []byte{
		0x50, 0x00, 0x00, 0xFF, 0xFF, 0x03, 0x00,
		0x0D, 0x00,
		0x10, 0x00,
		0x01, 0x14, 0x01, 0x00,
		0xBC, 0x02, 0x00, 0x90,
		0x01, 0x00,
		0x10,
	}
	assert.Equal(t, want, on)

	off := BuildWrite(700, false)
	assert.Equal(t, byte(0x00), off[len(off)-1])
	assert.Len(t, off, len(on))
}

func TestReadResponse_Success(t *testing.T) {
	r := bytes.NewReader(response(0, []byte{0x10, 0x01, 0x11}))
	resp, err := ReadResponse(r)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), resp.EndCode)
	assert.Equal(t, []byte{0x10, 0x01, 0x11}, resp.Data)
}

func TestReadResponse_WriteAckHasNoData(t *testing.T) {
	resp, err := ReadResponse(bytes.NewReader(response(0, nil)))
	require.NoError(t, err)
	assert.Empty(t, resp.Data)
}

func TestReadResponse_EndCode(t *testing.T) {
	resp, err := ReadResponse(bytes.NewReader(response(0xC059, nil)))
	var ec *EndCodeError
	require.True(t, errors.As(err, &ec))
	assert.Equal(t, uint16(0xC059), ec.Code)
	assert.Equal(t, uint16(0xC059), resp.EndCode)
}

func TestReadResponse_BadSubheader(t *testing.T) {
	raw := response(0, nil)
	raw[0] = 0x50
	_, err := ReadResponse(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrBadSubheader)
}

func TestReadResponse_Truncated(t *testing.T) {
	raw := response(0, []byte{1, 2, 3, 4})
	_, err := ReadResponse(bytes.NewReader(raw[:len(raw)-2]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadBits_ExactLength(t *testing.T) {
	data := make([]byte, ExpectedDataLen(150))
	got, err := ReadBits(bytes.NewReader(response(0, data)), 150)
	require.NoError(t, err)
	assert.Len(t, got, 75)

	_, err = ReadBits(bytes.NewReader(response(0, data[:74])), 150)
	assert.ErrorIs(t, err, ErrBadLength)
}

func TestExpectedDataLen(t *testing.T) {
	assert.Equal(t, 50, ExpectedDataLen(100))
	assert.Equal(t, 51, ExpectedDataLen(101))
	assert.Equal(t, 1, ExpectedDataLen(1))
}

func TestBit_Parity(t *testing.T) {
	raw := []byte{0x10, 0x01, 0x11, 0x00}

	assert.True(t, Bit(raw, 500, 500))  // idx 0 even
	assert.False(t, Bit(raw, 500, 501)) // idx 0 odd
	assert.False(t, Bit(raw, 500, 502)) // idx 1 even
	assert.True(t, Bit(raw, 500, 503))  // idx 1 odd
	assert.True(t, Bit(raw, 500, 504))
	assert.True(t, Bit(raw, 500, 505))
	assert.False(t, Bit(raw, 500, 506))

	assert.False(t, Bit(raw, 500, 499), "below base")
	assert.False(t, Bit(raw, 500, 508), "past end")
}
