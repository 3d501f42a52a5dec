package mysql

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressedConnRoundTripSmallPayload(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := newCompressedConn(client)
	sc := newCompressedConn(server)

	payload := []byte("ping")
	done := make(chan error, 1)
	go func() {
		_, err := cc.Write(payload)
		done <- err
	}()

	buf := make([]byte, len(payload))
	_, err := io.ReadFull(sc, buf)
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, payload, buf)
}

func TestCompressedConnRoundTripCompressiblePayload(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := newCompressedConn(client)
	sc := newCompressedConn(server)

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = 'a'
	}

	done := make(chan error, 1)
	go func() {
		_, err := cc.Write(payload)
		done <- err
	}()

	buf := make([]byte, len(payload))
	_, err := io.ReadFull(sc, buf)
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, payload, buf)
}

func TestZstdCompressedConnRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := newZstdCompressedConn(client)
	sc := newZstdCompressedConn(server)

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 7)
	}

	done := make(chan error, 1)
	go func() {
		_, err := cc.Write(payload)
		done <- err
	}()

	buf := make([]byte, len(payload))
	_, err := io.ReadFull(sc, buf)
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, payload, buf)
}
