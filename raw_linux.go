//go:build linux

package main

import (
	"encoding/binary"
	"errors"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/pyke369/golang-support/ustr"
)

// Addr names one endpoint at the Ethernet/IPv4/UDP level, as seen by the
// AF_PACKET conduit client mode relies on.
type Addr struct {
	HardwareAddr net.HardwareAddr
	Addr         net.IP
	Port         int
	Device       string
}

// Conn sends and receives DHCP frames below the kernel UDP stack, so that
// client mode works on an unconfigured interface.
type Conn struct {
	Local  *Addr
	bind   *Addr
	handle int
	conn   *os.File
}

func crc16(input []byte) uint16 {
	checksum := 0
	if len(input)%2 != 0 {
		return 0
	}
	for offset := 0; offset < len(input); offset += 2 {
		checksum += int(binary.BigEndian.Uint16(input[offset:]))
	}
	for checksum > 0xffff {
		checksum = (checksum >> 16) + int(uint16(checksum))
	}
	return ^uint16(checksum)
}

func NewConn(bind *Addr) (conn *Conn, err error) {
	conn = &Conn{Local: &Addr{}, bind: bind}
	if conn.bind == nil {
		conn.bind = &Addr{}
	}
	if conn.bind.HardwareAddr == nil {
		conn.bind.HardwareAddr, _ = net.ParseMAC("ff:ff:ff:ff:ff:ff")
	}
	if conn.bind.Addr == nil {
		conn.bind.Addr = net.IPv4bcast
	}
	if conn.bind.Port < 0 || conn.bind.Port > 65535 {
		return nil, errors.New("invalid bind port " + ustr.Int(conn.bind.Port))
	}
	ethertype := (syscall.ETH_P_IP << 8) | (syscall.ETH_P_IP >> 8)
	if conn.handle, err = syscall.Socket(syscall.AF_PACKET, syscall.SOCK_RAW, ethertype); err != nil {
		return nil, err
	}
	if err := syscall.SetsockoptInt(conn.handle, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		return nil, err
	}
	if err := syscall.SetNonblock(conn.handle, true); err != nil {
		return nil, err
	}
	if conn.bind.Device != "" {
		iface, err := net.InterfaceByName(conn.bind.Device)
		if err != nil {
			return nil, errors.New("invalid bind device (" + err.Error() + ")")
		}
		if iface.HardwareAddr == nil {
			return nil, errors.New("no hardware address for interface " + conn.bind.Device)
		}
		conn.Local.HardwareAddr, conn.Local.Device = iface.HardwareAddr, conn.bind.Device
		if addresses, err := iface.Addrs(); err == nil {
			for _, address := range addresses {
				if value, ok := address.(*net.IPNet); ok && value.IP.To4() != nil {
					conn.Local.Addr = value.IP
					break
				}
			}
		}
		if err := syscall.Bind(conn.handle, &syscall.SockaddrLinklayer{Protocol: uint16(ethertype), Ifindex: iface.Index}); err != nil {
			return nil, err
		}
	}
	if conn.conn = os.NewFile(uintptr(conn.handle), "rawconn"+ustr.Int(conn.handle)); conn.conn == nil {
		return nil, errors.New("raw conn creation failed")
	}
	return conn, nil
}

func (c *Conn) SetReadDeadline(deadline time.Time) error {
	return c.conn.SetReadDeadline(deadline)
}

// ReadFrom strips the Ethernet/IPv4/UDP envelope from the next captured UDP
// datagram sent to the bound port (any port when it is 0) and returns the
// DHCP payload. Unless the conduit is bound to the broadcast address (the
// default), the destination must also be us, the bound address or broadcast.
func (c *Conn) ReadFrom(data []byte) (read int, from *Addr, err error) {
	for {
		if read, err = c.conn.Read(data); err != nil {
			return
		}
		if read < 42 || data[23] != syscall.IPPROTO_UDP {
			continue
		}
		from = &Addr{HardwareAddr: net.HardwareAddr{}, Device: c.Local.Device}
		from.HardwareAddr = append(from.HardwareAddr, data[6:12]...)
		to := Addr{Addr: net.IPv4(data[30], data[31], data[32], data[33])}
		hsize := int((data[14] & 0x0f) * 4)
		from.Addr = net.IPv4(data[26], data[27], data[28], data[29])
		from.Port = int(binary.BigEndian.Uint16(data[14+hsize:]))
		to.Port = int(binary.BigEndian.Uint16(data[14+hsize+2:]))
		copy(data, data[14+hsize+8:])
		read -= 14 + hsize + 8
		if !to.Addr.Equal(net.IPv4bcast) && !to.Addr.Equal(c.Local.Addr) && !c.bind.Addr.Equal(net.IPv4bcast) && !c.bind.Addr.Equal(to.Addr) {
			continue
		}
		if c.bind.Port != 0 && c.bind.Port != to.Port {
			continue
		}
		return
	}
}

// WriteTo wraps one DHCP payload in Ethernet/IPv4/UDP headers and emits it on
// the bound interface, defaulting to the limited broadcast.
func (c *Conn) WriteTo(from, to *Addr, data []byte) (written int, err error) {
	if to == nil || to.Port == 0 {
		return 0, errors.New("invalid destination port")
	}
	if from == nil {
		from = &Addr{HardwareAddr: c.Local.HardwareAddr, Addr: c.Local.Addr, Port: c.bind.Port}
	}
	if from.HardwareAddr == nil {
		from.HardwareAddr = c.Local.HardwareAddr
	}
	if from.HardwareAddr == nil {
		return 0, errors.New("invalid source hardware address")
	}
	if from.Port == 0 {
		from.Port = c.bind.Port
	}
	if from.Port == 0 {
		return 0, errors.New("invalid source port")
	}
	if to.Addr == nil {
		to.Addr = net.IPv4bcast
	}
	if to.HardwareAddr == nil {
		to.HardwareAddr, _ = net.ParseMAC("ff:ff:ff:ff:ff:ff")
	}
	if from.Addr == nil {
		from.Addr = net.IPv4zero
	}

	payload := make([]byte, 0, 42+len(data))
	payload = append(payload, to.HardwareAddr...)
	payload = append(payload, from.HardwareAddr...)
	payload = append(payload, byte(syscall.ETH_P_IP>>8), byte(syscall.ETH_P_IP&0xff))
	ilength, ulength := 28+len(data), 8+len(data)
	payload = append(payload, []byte{
		0x45, 0x10, byte(ilength >> 8), byte(ilength),
		0x00, 0x00, 0x00, 0x00,
		128, 17, 0x00, 0x00,
	}...)
	payload = append(payload, from.Addr.To4()...)
	payload = append(payload, to.Addr.To4()...)
	binary.BigEndian.PutUint16(payload[24:], crc16(payload[14:34]))
	payload = append(payload, []byte{
		byte(from.Port >> 8), byte(from.Port), byte(to.Port >> 8), byte(to.Port),
		byte(ulength >> 8), byte(ulength), 0x00, 0x00,
	}...)
	payload = append(payload, data...)

	if _, err := c.conn.Write(payload); err != nil {
		return 0, err
	}
	return len(data), nil
}

func BindToDevice(handle int, name string) error {
	return syscall.SetsockoptString(handle, syscall.SOL_SOCKET, syscall.SO_BINDTODEVICE, name)
}
