//go:build !linux

package main

import (
	"errors"
	"net"
	"time"
)

type Addr struct {
	HardwareAddr net.HardwareAddr
	Addr         net.IP
	Port         int
	Device       string
}

type Conn struct {
	Local *Addr
}

func NewConn(bind *Addr) (conn *Conn, err error) {
	return nil, errors.New("client mode is not implemented on this platform")
}

func (c *Conn) SetReadDeadline(deadline time.Time) error {
	return errors.New("not implemented")
}

func (c *Conn) ReadFrom(data []byte) (read int, from *Addr, err error) {
	return 0, nil, errors.New("not implemented")
}

func (c *Conn) WriteTo(from, to *Addr, data []byte) (written int, err error) {
	return 0, errors.New("not implemented")
}

func BindToDevice(handle int, name string) error {
	return nil
}
