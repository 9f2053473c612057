package network

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/manaserv/internal/message"
	"github.com/cory-johannsen/manaserv/internal/protocol"
)

func TestConn_SendWritesFrame(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	c := NewConn(server, time.Second, 0)
	sent := 0
	c.onSend = func() { sent++ }

	out := message.NewOut(protocol.GPMsgEquip)
	out.WriteInt8(int8(protocol.ErrMsgOK))

	errCh := make(chan error, 1)
	go func() { errCh <- c.Send(out) }()

	buf := make([]byte, 5)
	_, err := io.ReadFull(client, buf)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	assert.Equal(t, []byte{0x00, 0x03, 0x01, 0x22, 0x00}, buf)
	assert.Equal(t, 1, sent)
}

func TestConn_DisconnectIsIdempotent(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	c := NewConn(server, 0, 0)
	assert.NotEqual(t, c.ID().String(), NewConn(server, 0, 0).ID().String())

	c.Disconnect("first")
	c.Disconnect("second")

	assert.True(t, c.Closed())
	assert.Equal(t, "first", c.DisconnectReason())
	assert.Error(t, c.Send(message.NewOut(protocol.GPMsgSay)))
}
