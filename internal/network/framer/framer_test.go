package framer

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

func TestWriteReadFrame(t *testing.T) {
	f := NewLengthPrefixedFramer(0)
	var buf bytes.Buffer

	require.NoError(t, f.WriteFrame(&buf, &Envelope{Flags: 1, Payload: []byte("hello")}))
	require.NoError(t, f.WriteFrame(&buf, &Envelope{}))

	env, err := f.ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), env.Flags)
	assert.Equal(t, []byte("hello"), env.Payload)

	env, err = f.ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), env.Flags)
	assert.Empty(t, env.Payload)

	_, err = f.ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameLimits(t *testing.T) {
	f := NewLengthPrefixedFramer(4)
	var buf bytes.Buffer
	assert.ErrorIs(t, f.WriteFrame(&buf, &Envelope{Payload: []byte("toolong")}), merr.ErrParameterTooLarge)
	assert.ErrorIs(t, f.WriteFrame(&buf, nil), merr.ErrParameterMissing)

	var header [5]byte
	binary.BigEndian.PutUint32(header[:4], 100)
	_, err := f.ReadFrame(bytes.NewReader(header[:]))
	assert.ErrorIs(t, err, merr.ErrLinkProtocol)

	binary.BigEndian.PutUint32(header[:4], 0)
	_, err = f.ReadFrame(bytes.NewReader(header[:]))
	assert.ErrorIs(t, err, merr.ErrLinkProtocol)
}

func TestTruncatedBody(t *testing.T) {
	f := NewLengthPrefixedFramer(0)
	var header [5]byte
	binary.BigEndian.PutUint32(header[:4], 10)
	_, err := f.ReadFrame(bytes.NewReader(append(header[:], 'a', 'b')))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
