package hostlink

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	frame := Frame{Kind: FrameKernelComplete, Payload: []byte{1, 2, 3, 4}}
	assert.NoError(t, WriteFrame(&buf, frame))

	got, err := ReadFrame(&buf)
	assert.NoError(t, err)
	assert.Equal(t, frame.Kind, got.Kind)
	assert.Equal(t, frame.Payload, got.Payload)
}

func TestWriteReadFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	frame := Frame{Kind: FrameSetLogLevel}
	assert.NoError(t, WriteFrame(&buf, frame))

	got, err := ReadFrame(&buf)
	assert.NoError(t, err)
	assert.Equal(t, FrameSetLogLevel, got.Kind)
	assert.Empty(t, got.Payload)
}

func TestReadFrameRejectsEmptyInput(t *testing.T) {
	var buf bytes.Buffer
	_, err := ReadFrame(&buf)
	assert.Error(t, err)
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, WriteFrame(&buf, Frame{Kind: FrameKernelLaunch, Payload: []byte("a")}))
	assert.NoError(t, WriteFrame(&buf, Frame{Kind: FrameKernelAbort, Payload: []byte("bb")}))

	first, err := ReadFrame(&buf)
	assert.NoError(t, err)
	assert.Equal(t, FrameKernelLaunch, first.Kind)

	second, err := ReadFrame(&buf)
	assert.NoError(t, err)
	assert.Equal(t, FrameKernelAbort, second.Kind)
	assert.Equal(t, []byte("bb"), second.Payload)
}
