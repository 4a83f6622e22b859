package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestRoundTrip(t *testing.T) {
	doc := bson.D{{Key: "action", Value: "retrieve"}, {Key: "n", Value: int32(42)}}

	frame, err := Encode(doc)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(frame)), binary.LittleEndian.Uint32(frame[:PrefixSize]))

	read, err := ReadFrame(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.False(t, read.Ping)

	raw, err := Validate(read.Data)
	require.NoError(t, err)

	var decoded bson.D
	require.NoError(t, bson.Unmarshal(raw, &decoded))
	assert.Equal(t, doc, decoded)
}

func TestReadFramePing(t *testing.T) {
	// Advertised length of 4 bytes is below the minimum document size.
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], 4)

	frame, err := ReadFrame(bytes.NewReader(prefix[:]))
	require.NoError(t, err)
	assert.True(t, frame.Ping)
	assert.Equal(t, prefix[:], frame.Data)
}

func TestReadFrameEOF(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameSizeBoundary(t *testing.T) {
	// Exactly MaxFrameSize is accepted.
	data := make([]byte, MaxFrameSize)
	binary.LittleEndian.PutUint32(data, MaxFrameSize)
	frame, err := ReadFrame(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Len(t, frame.Data, MaxFrameSize)

	// One byte more is rejected before reading the body.
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], MaxFrameSize+1)
	_, err = ReadFrame(bytes.NewReader(prefix[:]))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestReadFrameRawTextIsNotBSON(t *testing.T) {
	// "hell" decodes to a ~1.8 GB length: garbage, not an oversized frame.
	_, err := ReadFrame(bytes.NewReader([]byte("hello world")))
	assert.ErrorIs(t, err, ErrNotBSON)
	assert.NotErrorIs(t, err, ErrTooLarge)
}

func TestValidateRejectsGarbage(t *testing.T) {
	payload := []byte("hello world")
	_, err := Validate(payload)
	assert.ErrorIs(t, err, ErrNotBSON)
}

func TestValidateRejectsLengthMismatch(t *testing.T) {
	doc, err := Encode(bson.D{{Key: "k", Value: "v"}})
	require.NoError(t, err)

	// Truncate the body while keeping the declared length.
	_, err = Validate(doc[:len(doc)-1])
	assert.ErrorIs(t, err, ErrNotBSON)
}

func TestValidateRejectsCorruptInterior(t *testing.T) {
	doc, err := Encode(bson.D{{Key: "key", Value: "value"}})
	require.NoError(t, err)

	// Clobber the element type byte with an invalid tag.
	doc[4] = 0x7f
	_, err = Validate(doc)
	assert.ErrorIs(t, err, ErrNotBSON)
}
