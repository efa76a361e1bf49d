package nozzleport

import (
	"io"
	"net"
	"time"
)

// Transport is the line-oriented wire underneath a Port. The real 8-N-1
// 460800-baud serial line (transport_linux.go, built on
// github.com/daedaluz/goserial) and a plain TCP connection (used by
// cmd/nozzlesim and tests) both satisfy it.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// DialTCP connects to a TCP nozzle simulator. Used by cmd/nozzlesim-backed
// integration tests and local development, where opening a real serial
// device isn't possible.
func DialTCP(addr string, timeout time.Duration) (Transport, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
