package msp

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/sigurn/crc8"

	"github.com/powercal/powercal/pkg/transport"
)

const (
	dirRequest  = '<'
	dirResponse = '>'
	dirError    = '!'

	// maxNoise is how many bytes that do not start a frame are skipped before
	// giving up. Boards print boot banners and CLI echoes on the same port.
	maxNoise = 256

	maxV1Payload = 255
	maxV2Payload = 4096
)

var (
	ErrBadPreamble = errors.New("bad frame preamble")
	ErrChecksum    = errors.New("checksum mismatch")
	ErrTooLarge    = errors.New("payload too large")
)

var dvbS2 = crc8.MakeTable(crc8.CRC8_DVB_S2)

// V1 is the MSP v1 codec.
type V1 struct{}

// V2 is the MSP v2 codec.
type V2 struct{}

var (
	_ transport.Codec = V1{}
	_ transport.Codec = V2{}
)

func (V1) Encode(req transport.Frame) ([]byte, error) {
	if req.Command > 0xff {
		return nil, errors.Errorf("command %d does not fit a v1 frame", req.Command)
	}
	if len(req.Payload) > maxV1Payload {
		return nil, errors.Wrapf(ErrTooLarge, "%d bytes", len(req.Payload))
	}

	b := make([]byte, 0, 6+len(req.Payload))
	b = append(b, '$', 'M', dirRequest, byte(len(req.Payload)), byte(req.Command))
	b = append(b, req.Payload...)
	return append(b, xor(b[3:])), nil
}

func (V1) Decode(r io.Reader, req transport.Frame) (transport.Frame, error) {
	br := bufio.NewReader(r)
	dir, err := readPreamble(br, 'M')
	if err != nil {
		return transport.Frame{}, err
	}

	hdr := make([]byte, 2)
	if _, err := io.ReadFull(br, hdr); err != nil {
		return transport.Frame{}, err
	}
	size, cmd := int(hdr[0]), uint16(hdr[1])

	rest := make([]byte, size+1)
	if _, err := io.ReadFull(br, rest); err != nil {
		return transport.Frame{}, err
	}
	payload := rest[:size]

	if want := xor(append(hdr, payload...)); rest[size] != want {
		return transport.Frame{}, errors.Wrapf(ErrChecksum, "got 0x%02X, want 0x%02X", rest[size], want)
	}

	return newResponse(req, cmd, payload, dir)
}

func (V2) Encode(req transport.Frame) ([]byte, error) {
	if len(req.Payload) > maxV2Payload {
		return nil, errors.Wrapf(ErrTooLarge, "%d bytes", len(req.Payload))
	}

	b := make([]byte, 0, 9+len(req.Payload))
	b = append(b, '$', 'X', dirRequest, 0)
	b = binary.LittleEndian.AppendUint16(b, req.Command)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(req.Payload)))
	b = append(b, req.Payload...)
	return append(b, crc8.Checksum(b[3:], dvbS2)), nil
}

func (V2) Decode(r io.Reader, req transport.Frame) (transport.Frame, error) {
	br := bufio.NewReader(r)
	dir, err := readPreamble(br, 'X')
	if err != nil {
		return transport.Frame{}, err
	}

	// flag, cmd, size
	hdr := make([]byte, 5)
	if _, err := io.ReadFull(br, hdr); err != nil {
		return transport.Frame{}, err
	}
	cmd := binary.LittleEndian.Uint16(hdr[1:3])
	size := int(binary.LittleEndian.Uint16(hdr[3:5]))
	if size > maxV2Payload {
		return transport.Frame{}, errors.Wrapf(ErrTooLarge, "%d bytes", size)
	}

	rest := make([]byte, size+1)
	if _, err := io.ReadFull(br, rest); err != nil {
		return transport.Frame{}, err
	}
	payload := rest[:size]

	crc := crc8.Update(crc8.Init(dvbS2), hdr, dvbS2)
	crc = crc8.Complete(crc8.Update(crc, payload, dvbS2), dvbS2)
	if rest[size] != crc {
		return transport.Frame{}, errors.Wrapf(ErrChecksum, "got 0x%02X, want 0x%02X", rest[size], crc)
	}

	return newResponse(req, cmd, payload, dir)
}

// readPreamble skips noise up to the next '$' and reads the version and
// direction bytes. It returns the direction.
func readPreamble(br *bufio.Reader, version byte) (byte, error) {
	for skipped := 0; ; skipped++ {
		if skipped > maxNoise {
			return 0, errors.Wrapf(ErrBadPreamble, "no frame start within %d bytes", maxNoise)
		}
		c, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if c == '$' {
			break
		}
	}

	hdr := make([]byte, 2)
	if _, err := io.ReadFull(br, hdr); err != nil {
		return 0, err
	}
	if hdr[0] != version {
		return 0, errors.Wrapf(ErrBadPreamble, "got version %q, want %q", hdr[0], version)
	}
	if hdr[1] != dirResponse && hdr[1] != dirError {
		return 0, errors.Wrapf(ErrBadPreamble, "unexpected direction %q", hdr[1])
	}
	return hdr[1], nil
}

func newResponse(req transport.Frame, cmd uint16, payload []byte, dir byte) (transport.Frame, error) {
	if cmd != req.Command {
		return transport.Frame{}, errors.Errorf("response to command %d, want %d", cmd, req.Command)
	}
	return transport.Frame{
		Command: cmd,
		Payload: payload,
		Error:   dir == dirError,
	}, nil
}

func xor(b []byte) byte {
	var c byte
	for _, v := range b {
		c ^= v
	}
	return c
}
