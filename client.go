package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"os"
	"time"

	"github.com/pyke369/golang-support/fqdn"
	j "github.com/pyke369/golang-support/jsonrpc"
	"github.com/pyke369/golang-support/uhash"
	"github.com/pyke369/golang-support/ustr"
)

// discover issues DHCPDISCOVER frames on the given interface and prints the
// first correlated DHCPOFFER as JSON on stdout. It returns an error when the
// retries are exhausted without a matching reply.
func discover(device string, port, retries int, extra string) error {
	conn, err := NewConn(&Addr{Port: port + 1, Device: device})
	if err != nil {
		return err
	}
	frame := FRAME{
		"bootp-transaction-id":    ustr.HexInt(uint64(uhash.Rand(1<<32-1)), 4),
		"dhcp-message-type":       "discover",
		"client-hardware-address": conn.Local.HardwareAddr.String(),
		"parameters-request-list": []any{"hostname", "subnet-mask", "routers", "domain-name", "domain-name-servers", "domain-search", "time-offset", "ntp-servers"},
	}
	if conn.Local.Addr != nil {
		frame["bootp-client-address"] = conn.Local.Addr.String()
		frame["requested-ip-address"] = conn.Local.Addr.String()
	}
	if hostname, _ := fqdn.FQDN(); hostname != "" && hostname != "unknown" {
		frame["hostname"] = hostname
	}
	if extra != "" {
		var eframe map[string]any

		if err := json.Unmarshal([]byte(extra), &eframe); err != nil {
			return errors.New(`invalid request specification (` + err.Error() + `)`)
		}
		for name, value := range eframe {
			frame[name] = value
		}
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	packet, meta, err := v4encode(payload)
	if err != nil {
		return err
	}
	if meta.op != BOOTREQUEST {
		return errors.New(`only requests can be sent in client mode`)
	}

	from, to, delay := &Addr{}, &Addr{Port: port}, 2*time.Second
	if value := j.String(frame["bootp-client-address"]); value != "" {
		from.Addr = net.ParseIP(value)
	}
	for try := 0; try < retries; try++ {
		if _, err := conn.WriteTo(from, to, packet); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(delay))
		received := make([]byte, 4<<10)
		for {
			read, _, err := conn.ReadFrom(received)
			if err != nil {
				break
			}
			rframe, rmeta, err := v4decode(received[:read])
			if err != nil || rmeta.op != BOOTREPLY {
				continue
			}
			if bytes.Equal(rmeta.key[:10], meta.key[:10]) && v4bucket(rmeta.mtype) == meta.mtype {
				content, err := json.Marshal(rframe)
				if err != nil {
					return err
				}
				os.Stdout.Write(append(content, '\n'))
				return nil
			}
		}
		delay = delay * 3 / 2
	}
	return errors.New(`no response from server`)
}
