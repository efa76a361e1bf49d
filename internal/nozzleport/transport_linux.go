//go:build linux

package nozzleport

import (
	"fmt"

	serial "github.com/daedaluz/goserial"
)

// baudFlags maps the handful of baud rates this system is ever configured
// for onto the termios CFlag constants goserial exposes. 460800 (spec §6
// "Serial line") is the default; others are accepted for bench testing at
// lower rates.
var baudFlags = map[int]serial.CFlag{
	9600:   serial.B9600,
	19200:  serial.B19200,
	38400:  serial.B38400,
	57600:  serial.B57600,
	115200: serial.B115200,
	230400: serial.B230400,
	460800: serial.B460800,
}

// OpenSerial opens the real nozzle-controller serial line: 8 data bits, no
// parity, 1 stop bit (8-N-1), newline-delimited, at the given baud rate
// (spec §6).
func OpenSerial(path string, baud int) (Transport, error) {
	flag, ok := baudFlags[baud]
	if !ok {
		return nil, fmt.Errorf("nozzleport: unsupported baud rate %d", baud)
	}

	port, err := serial.Open(path, serial.NewOptions().SetReadTimeout(0))
	if err != nil {
		return nil, fmt.Errorf("nozzleport: open %s: %w", path, err)
	}

	attrs, err := port.GetAttr2()
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("nozzleport: get attrs: %w", err)
	}
	attrs.MakeRaw()
	attrs.SetSpeed(flag)
	// 8-N-1: clear parity/stop-bit-extra/char-size bits, then select 8 bits.
	attrs.Cflag &^= serial.PARENB | serial.CSTOPB | serial.CSIZE
	attrs.Cflag |= serial.CS8 | serial.CREAD | serial.CLOCAL

	if err := port.SetAttr2(serial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, fmt.Errorf("nozzleport: set attrs: %w", err)
	}

	return port, nil
}
