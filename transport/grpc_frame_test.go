/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"testing"

	"geotxn/config"
	"geotxn/txn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	raw := encodeFrame(7, config.InterleaverChannel, []byte("payload"))

	from, channel, payload, err := decodeFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, txn.MachineId(7), from)
	assert.Equal(t, config.InterleaverChannel, channel)
	assert.Equal(t, []byte("payload"), payload)
}

func TestDecodeFrameTruncated(t *testing.T) {
	_, _, _, err := decodeFrame([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestFrameCodecRoundTrip(t *testing.T) {
	c := frameCodec{}
	f := &frame{data: []byte("hello")}

	raw, err := c.Marshal(f)
	require.NoError(t, err)

	out := new(frame)
	require.NoError(t, c.Unmarshal(raw, out))
	assert.Equal(t, f.data, out.data)
}
