// Reference stdio backend for jdhcp: reads newline-delimited JSON DHCP
// requests on stdin, answers offers and acks from a configured address range
// on stdout. Lease policy here is deliberately naive (memory-only, first-fit,
// no conflict detection); it documents the worker contract.
package main

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	j "github.com/pyke369/golang-support/jsonrpc"
	"github.com/pyke369/golang-support/uconfig"
)

var (
	config *uconfig.UConfig
	leases = map[string]string{}
)

func allocate(client string, first, last uint32) string {
	if address, ok := leases[client]; ok {
		return address
	}
	for index := first; index <= last; index++ {
		address := net.IPv4(byte(index>>24), byte(index>>16), byte(index>>8), byte(index)).String()
		taken := false
		for _, value := range leases {
			if value == address {
				taken = true
				break
			}
		}
		if !taken {
			leases[client] = address
			return address
		}
	}
	return ""
}

func answer(request map[string]any) map[string]any {
	client, mtype := j.String(request["client-hardware-address"]), j.String(request["dhcp-message-type"])
	if client == "" {
		return nil
	}
	rtype := ""
	switch mtype {
	case "discover":
		rtype = "offer"
	case "request":
		rtype = "ack"
	default:
		return nil
	}
	parts := strings.Split(config.String("backend.range"), "-")
	if len(parts) != 2 {
		return nil
	}
	first, last := net.ParseIP(strings.TrimSpace(parts[0])), net.ParseIP(strings.TrimSpace(parts[1]))
	if first == nil || first.To4() == nil || last == nil || last.To4() == nil {
		return nil
	}
	address := allocate(client, binary.BigEndian.Uint32(first.To4()), binary.BigEndian.Uint32(last.To4()))
	if address == "" {
		fmt.Fprintf(os.Stderr, "address range exhausted for %s\n", client)
		return nil
	}
	if rtype == "ack" {
		if value := j.String(request["requested-ip-address"]); value != "" && value != address {
			rtype = "nak"
		}
	}
	duration, _ := strconv.Atoi(config.String("backend.lease-time", "86400"))
	response := map[string]any{
		"client-hardware-address": client,
		"bootp-transaction-id":    j.String(request["bootp-transaction-id"]),
		"dhcp-message-type":       rtype,
		"bootp-assigned-address":  address,
		"address-lease-time":      duration,
		"server-identifier":       config.String("backend.server-identifier", "0.0.0.0"),
	}
	if value := j.String(request["bootp-relay-address"]); value != "" {
		response["bootp-relay-address"] = value
	}
	if value := config.String("backend.netmask"); value != "" {
		response["subnet-mask"] = value
	}
	if value := config.String("backend.router"); value != "" {
		response["routers"] = []any{value}
	}
	if value := config.String("backend.dns"); value != "" {
		servers := []any{}
		for _, server := range strings.Fields(value) {
			servers = append(servers, server)
		}
		response["domain-name-servers"] = servers
	}
	if value := config.String("backend.domain"); value != "" {
		response["domain-name"] = value
	}
	return response
}

func main() {
	var err error

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <configuration file>\n", filepath.Base(os.Args[0]))
		os.Exit(1)
	}
	if config, err = uconfig.New(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "configuration file syntax error: %s - aborting\n", err)
		os.Exit(2)
	}
	fmt.Fprintf(os.Stderr, "serving range %s\n", config.String("backend.range"))

	reader, writer := bufio.NewScanner(os.Stdin), bufio.NewWriter(os.Stdout)
	reader.Buffer(make([]byte, 0, 64<<10), 64<<10)
	for reader.Scan() {
		var request map[string]any

		if err := json.Unmarshal(reader.Bytes(), &request); err != nil {
			fmt.Fprintf(os.Stderr, "discarding invalid request (%v)\n", err)
			continue
		}
		if response := answer(request); response != nil {
			if payload, err := json.Marshal(response); err == nil {
				writer.Write(append(payload, '\n'))
				writer.Flush()
			}
		}
	}
}
