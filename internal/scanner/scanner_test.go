package scanner

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startFakeScanner(t *testing.T, respond func(request string) string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			return
		}
		conn.Write([]byte(respond(strings.TrimSpace(line)) + "\n"))
	}()

	return ln.Addr().String()
}

func TestScanReturnsOK(t *testing.T) {
	addr := startFakeScanner(t, func(req string) string { return "/tmp/doc.pdf: OK" })
	client := NewClient(addr, time.Second)

	result, err := client.Scan(context.Background(), "/tmp/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, result.Outcome)
}

func TestScanReturnsFound(t *testing.T) {
	addr := startFakeScanner(t, func(req string) string { return "/tmp/doc.pdf: Eicar-Test-Signature FOUND" })
	client := NewClient(addr, time.Second)

	result, err := client.Scan(context.Background(), "/tmp/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFound, result.Outcome)
	assert.Equal(t, "Eicar-Test-Signature", result.Reason)
}

func TestScanReturnsError(t *testing.T) {
	addr := startFakeScanner(t, func(req string) string { return "/tmp/doc.pdf: Parse error ERROR" })
	client := NewClient(addr, time.Second)

	result, err := client.Scan(context.Background(), "/tmp/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, result.Outcome)
}

func TestScanMissingEntryIsInvalidResponse(t *testing.T) {
	addr := startFakeScanner(t, func(req string) string { return "/other/path.pdf: OK" })
	client := NewClient(addr, time.Second)

	_, err := client.Scan(context.Background(), "/tmp/doc.pdf")
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestScanTransportFailure(t *testing.T) {
	client := NewClient("127.0.0.1:1", 200*time.Millisecond)
	_, err := client.Scan(context.Background(), "/tmp/doc.pdf")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidResponse)
}
