package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeChoosesNewestCommonVersion(t *testing.T) {
	var toServer bytes.Buffer
	client := NewEncoder(&toServer, Version{})
	require.NoError(t, WriteHello(client, []Version{V1_44, V1_83, V1_62}))

	offered, err := ReadHello(NewDecoder(&toServer, Version{}, DefaultLimits()))
	require.NoError(t, err)
	assert.Equal(t, []Version{V1_83, V1_62, V1_44}, offered)

	chosen, ok := Choose(offered, []Version{V1_30, V1_44, V1_62})
	require.True(t, ok)
	assert.Equal(t, V1_62, chosen)

	var toClient bytes.Buffer
	require.NoError(t, WriteHelloReply(NewEncoder(&toClient, Version{}), chosen))
	got, err := ReadHelloReply(NewDecoder(&toClient, Version{}, DefaultLimits()), offered)
	require.NoError(t, err)
	assert.Equal(t, V1_62, got)
}

func TestHandshakeRejectsUnofferedVersion(t *testing.T) {
	var toClient bytes.Buffer
	require.NoError(t, WriteHelloReply(NewEncoder(&toClient, Version{}), V1_30))
	_, err := ReadHelloReply(NewDecoder(&toClient, Version{}, DefaultLimits()), []Version{V1_83})
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestHandshakeServerRefusal(t *testing.T) {
	var toClient bytes.Buffer
	require.NoError(t, WriteHelloReject(NewEncoder(&toClient, Version{}), "no common version"))
	_, err := ReadHelloReply(NewDecoder(&toClient, Version{}, DefaultLimits()), []Version{V1_83})
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
	assert.Contains(t, err.Error(), "no common version")
}

func TestHandshakeBadMagic(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf, Version{})
	require.NoError(t, e.WriteInt32(0x12345678))
	require.NoError(t, e.Flush())
	_, err := ReadHello(NewDecoder(&buf, Version{}, DefaultLimits()))
	assert.ErrorIs(t, err, ErrFraming)
}

func TestChooseWithoutOverlap(t *testing.T) {
	_, ok := Choose([]Version{V1_83}, []Version{V1_0})
	assert.False(t, ok)
}
