package netmsg

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMessage_SerializeLayout(t *testing.T) {
	m := New(TypeDummy, []byte{0xAA, 0xBB})
	m.Header.SetFlag(FlagHasSequenceNo)
	m.Header.TargetID = 7
	m.Header.Sequence = 42
	m.Header.SequenceDone = 41

	buf := make([]byte, 64)
	n, err := m.Serialize(buf)
	require.NoError(t, err)
	require.Equal(t, HeaderLen+2, n)

	require.Equal(t, uint32(42), binary.LittleEndian.Uint32(buf[0:4]))
	require.Equal(t, FlagHasSequenceNo, buf[7])
	require.Equal(t, uint64(0x4247465300000000), binary.LittleEndian.Uint64(buf[8:16]))
	require.Equal(t, uint16(4005), binary.LittleEndian.Uint16(buf[16:18]))
	require.Equal(t, uint16(7), binary.LittleEndian.Uint16(buf[18:20]))
	require.Equal(t, uint64(42), binary.LittleEndian.Uint64(buf[24:32]))
	require.Equal(t, uint64(41), binary.LittleEndian.Uint64(buf[32:40]))
	require.Equal(t, []byte{0xAA, 0xBB}, buf[40:42])

	parsed, err := Parse(buf[:n])
	require.NoError(t, err)
	require.Equal(t, m.Header, parsed.Header)
	require.Equal(t, m.Payload, parsed.Payload)
}

func TestMessage_SerializeBufferTooSmall(t *testing.T) {
	m := New(TypeDummy, make([]byte, 10))
	_, err := m.Serialize(make([]byte, HeaderLen))
	require.ErrorIs(t, err, ErrBufferTooSmall)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(make([]byte, 10))
	require.ErrorIs(t, err, ErrShortHeader)

	_, err = Parse(make([]byte, HeaderLen))
	require.ErrorIs(t, err, ErrBadPrefix)

	buf := New(TypeDummy, nil).Bytes()
	binary.LittleEndian.PutUint32(buf[0:4], 100)
	_, err = Parse(buf)
	require.ErrorIs(t, err, ErrBadLength)

	buf = New(TypeDummy, nil).Bytes()
	buf[7] = 0x80
	_, err = Parse(buf)
	require.ErrorIs(t, err, ErrBadFlags)
}

func TestGenericResponse_Unmarshal(t *testing.T) {
	msg := NewGenericResponse(CodeIndirectCommErr, "failover")
	parsed, err := Parse(msg.Bytes())
	require.NoError(t, err)
	require.Equal(t, TypeGenericResponse, parsed.Header.Type)

	resp := &GenericResponse{}
	require.NoError(t, resp.Unmarshal(parsed.Payload))
	require.Equal(t, CodeIndirectCommErr, resp.Code)
	require.Equal(t, "failover", resp.Reason)

	require.Error(t, resp.Unmarshal([]byte{1, 0}))
}

func sendAsync(conn net.Conn, b []byte) {
	go func() {
		_, _ = conn.Write(b)
	}()
}

func TestRecvMsgBuf_Complete(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sent := New(TypeAck, []byte("hello")).Bytes()
	sendAsync(server, sent)

	buf := make([]byte, 128)
	n, err := RecvMsgBuf(client, buf, time.Second)
	require.NoError(t, err)
	require.Equal(t, len(sent), n)
	require.Equal(t, sent, buf[:n])
}

func TestRecvMsgBuf_HeaderOnly(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sendAsync(server, New(TypeAck, nil).Bytes())

	n, err := RecvMsgBuf(client, make([]byte, 128), time.Second)
	require.NoError(t, err)
	require.Equal(t, HeaderLen, n)
}

func TestRecvMsgBuf_Oversize(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sendAsync(server, New(TypeAck, make([]byte, 100)).Bytes())

	_, err := RecvMsgBuf(client, make([]byte, 64), time.Second)
	require.ErrorIs(t, err, ErrOversize)
}

func TestRecvMsgBuf_Timeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	_, err := RecvMsgBuf(client, make([]byte, 64), 10*time.Millisecond)
	require.Error(t, err)
	require.True(t, IsTimeout(err))
}
