// SPDX-License-Identifier: GPL-2.0-only

// Package probe speaks just enough of the USB/IP wire protocol to ask a
// remote daemon for its exported device list. It is a reachability check
// that needs no SSH session and no elevated privileges: a handshake on
// the daemon port proves the host is up and exporting.
package probe

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/efficientgo/core/errors"
)

// DefaultPort is the IANA-assigned USB/IP daemon port.
const DefaultPort = 3240

const (
	protoVersion   = 0x0111
	opReqDevlist   = 0x8005
	replyDeadline  = 5 * time.Second
	maxInterfaces  = 256
	interfaceBytes = 4
)

// ExportedDevice is one device a remote daemon offers for attachment.
type ExportedDevice struct {
	BusID   string
	Vendor  uint16
	Product uint16
}

type header struct {
	Version uint16
	Code    uint16
	Status  uint32
}

type devlistHeader struct {
	header
	NumDevices uint32
}

// deviceEntry mirrors the fixed-size device section of a devlist reply.
type deviceEntry struct {
	Path          [256]byte
	BusId         [32]byte
	BusNum        uint32
	DevNum        uint32
	Speed         uint32
	IdVendor      uint16
	IdProduct     uint16
	BcdDevice     uint16
	DeviceClass   uint8
	DeviceSub     uint8
	Protocol      uint8
	ConfValue     uint8
	NumConfs      uint8
	NumInterfaces uint8
}

// Exported connects to the daemon on host and returns its device list.
func Exported(ctx context.Context, host string) ([]ExportedDevice, error) {
	return ExportedAt(ctx, host, DefaultPort)
}

// ExportedAt is Exported against a non-standard daemon port.
func ExportedAt(ctx context.Context, host string, port int) ([]ExportedDevice, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to USB/IP daemon at %s", addr)
	}
	defer func() { _ = conn.Close() }()
	return exchange(conn)
}

func exchange(conn net.Conn) ([]ExportedDevice, error) {
	if err := conn.SetDeadline(time.Now().Add(replyDeadline)); err != nil {
		return nil, err
	}

	if err := binary.Write(conn, binary.BigEndian, header{protoVersion, opReqDevlist, 0}); err != nil {
		return nil, errors.Wrap(err, "writing devlist request")
	}

	var hdr devlistHeader
	if err := binary.Read(conn, binary.BigEndian, &hdr); err != nil {
		return nil, errors.Wrap(err, "reading devlist reply")
	}
	if hdr.Status != 0 {
		return nil, errors.Newf("daemon refused devlist request, status %d", hdr.Status)
	}

	devices := make([]ExportedDevice, 0, hdr.NumDevices)
	var skip [maxInterfaces * interfaceBytes]byte
	for i := 0; i < int(hdr.NumDevices); i++ {
		var entry deviceEntry
		if err := binary.Read(conn, binary.BigEndian, &entry); err != nil {
			return nil, errors.Wrap(err, "reading devlist entry")
		}
		end := bytes.IndexByte(entry.BusId[:], 0)
		if end < 0 {
			end = len(entry.BusId)
		}
		devices = append(devices, ExportedDevice{
			BusID:   string(entry.BusId[:end]),
			Vendor:  entry.IdVendor,
			Product: entry.IdProduct,
		})
		// Interface sections carry nothing the probe needs.
		if _, err := io.ReadFull(conn, skip[:int(entry.NumInterfaces)*interfaceBytes]); err != nil {
			return nil, errors.Wrap(err, "devlist entry ended early")
		}
	}
	return devices, nil
}
