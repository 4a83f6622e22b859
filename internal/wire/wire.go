// Package wire implements the length-prefixed BSON framing used on the
// broker's TCP listener.
//
// A frame is a single BSON document: the first four bytes (little-endian
// uint32) carry the total document length including the prefix itself, so the
// document is self-delimiting on the stream. Frames advertising fewer than
// five bytes are treated as pings and echoed back verbatim.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/marmos91/docbroker/pkg/bufpool"
)

const (
	// PrefixSize is the length of the frame length prefix in bytes.
	PrefixSize = 4

	// MinFrameSize is the smallest valid BSON document (int32 length +
	// terminating NUL).
	MinFrameSize = 5

	// MaxFrameSize is the largest accepted frame. Anything larger fails the
	// read and the connection is closed.
	MaxFrameSize = 8 << 20 // 8 MiB

	// junkLimit separates oversized frames from prefixes that were never a
	// frame at all. A client that streams raw text ("hello world") produces
	// an absurd advertised length; that is a malformed payload, not a large
	// one, and the connection can survive it.
	junkLimit = MaxFrameSize * 4
)

var (
	// ErrTooLarge is returned when a frame advertises a length above MaxFrameSize.
	ErrTooLarge = errors.New("wire: frame exceeds maximum size")

	// ErrNotBSON is returned when frame bytes do not form a valid BSON document.
	ErrNotBSON = errors.New("wire: payload is not BSON")
)

// Frame is one unit read off the stream.
type Frame struct {
	// Data holds the raw frame bytes, length prefix included. The slice is
	// borrowed from the buffer pool; call Release once the frame and every
	// view into it are done.
	Data []byte

	// Ping marks a short frame (advertised length < MinFrameSize). The
	// session loop echoes Data back without dispatching.
	Ping bool
}

// Release returns the frame's buffer to the pool. The frame, and any
// bson.Raw derived from it, must not be used afterwards.
func (f Frame) Release() {
	bufpool.Put(f.Data)
}

// ReadFrame reads one complete frame from r.
//
// EOF from the first prefix byte is returned directly so callers can detect
// normal peer disconnect. A frame advertising more than MaxFrameSize returns
// ErrTooLarge without consuming the body; the caller is expected to drop the
// connection since the stream position is no longer trustworthy. A prefix
// beyond any plausible frame length returns ErrNotBSON instead: the bytes are
// garbage on the stream and the caller may discard them and carry on.
func ReadFrame(r io.Reader) (Frame, error) {
	var prefix [PrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Frame{}, err
	}

	length := binary.LittleEndian.Uint32(prefix[:])
	if length < MinFrameSize {
		data := bufpool.Get(PrefixSize)
		copy(data, prefix[:])
		return Frame{Data: data, Ping: true}, nil
	}
	if length > junkLimit {
		return Frame{}, fmt.Errorf("%w: advertised length %d", ErrNotBSON, length)
	}
	if length > MaxFrameSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, length)
	}

	data := bufpool.GetUint32(length)
	copy(data, prefix[:])
	if _, err := io.ReadFull(r, data[PrefixSize:]); err != nil {
		bufpool.Put(data)
		return Frame{}, fmt.Errorf("read frame body: %w", err)
	}
	return Frame{Data: data}, nil
}

// Validate checks that data is a structurally valid BSON document and returns
// it as a bson.Raw view. Validation never dereferences past the advertised
// document length.
func Validate(data []byte) (bson.Raw, error) {
	if len(data) < MinFrameSize {
		return nil, ErrNotBSON
	}
	declared := binary.LittleEndian.Uint32(data[:PrefixSize])
	if int(declared) != len(data) {
		return nil, fmt.Errorf("%w: declared %d bytes, got %d", ErrNotBSON, declared, len(data))
	}
	raw := bson.Raw(data)
	if err := raw.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotBSON, err)
	}
	return raw, nil
}

// Encode marshals doc into frame bytes. The BSON length prefix doubles as the
// wire length prefix, so the marshalled document is the frame.
func Encode(doc any) ([]byte, error) {
	if raw, ok := doc.(bson.Raw); ok {
		return raw, nil
	}
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// WriteFrame writes one frame to w as a single write.
func WriteFrame(w io.Writer, frame []byte) error {
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
