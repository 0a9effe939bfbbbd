// HTTP backend for jdhcp remote mode: each DHCP request is POSTed here as a
// JSON document and the response body is the JSON reply. Answers are built
// from configured static options plus a first-fit address range, with
// per-section matching on request fields.
package main

import (
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pyke369/golang-support/dynacert"
	j "github.com/pyke369/golang-support/jsonrpc"
	"github.com/pyke369/golang-support/rcache"
	"github.com/pyke369/golang-support/uconfig"
	"github.com/pyke369/golang-support/ulog"
)

var (
	config *uconfig.UConfig
	log    *ulog.ULog
	leases = map[string]string{}
	lock   sync.Mutex
)

func allocate(client string) string {
	parts := strings.Split(config.String("backend.range"), "-")
	if len(parts) != 2 {
		return ""
	}
	first, last := net.ParseIP(strings.TrimSpace(parts[0])), net.ParseIP(strings.TrimSpace(parts[1]))
	if first == nil || first.To4() == nil || last == nil || last.To4() == nil {
		return ""
	}
	lock.Lock()
	defer lock.Unlock()
	if address, ok := leases[client]; ok {
		return address
	}
	start, end := binary.BigEndian.Uint32(first.To4()), binary.BigEndian.Uint32(last.To4())
	for index := start; index <= end; index++ {
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

// matched tells whether a rules section applies to the request: every
// "<section>.match.<key>" value must match the request field, literally or as
// a ~regex.
func matched(request map[string]any, section string) bool {
	for _, match := range config.Paths(section + ".match") {
		expected, received := strings.TrimSpace(config.String(match)), ""
		if value, ok := request[strings.TrimPrefix(match, section+".match.")]; ok {
			received = fmt.Sprintf("%v", value)
		}
		if strings.HasPrefix(expected, "~") {
			matcher := rcache.Get(strings.TrimSpace(expected[1:]))
			if matcher == nil || !matcher.MatchString(received) {
				return false
			}
		} else if expected != received {
			return false
		}
	}
	return true
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
	response := map[string]any{
		"client-hardware-address": client,
		"bootp-transaction-id":    j.String(request["bootp-transaction-id"]),
		"dhcp-message-type":       rtype,
	}
	if value := j.String(request["bootp-relay-address"]); value != "" {
		response["bootp-relay-address"] = value
	}
	for _, section := range config.Paths("rules") {
		if !matched(request, section) {
			continue
		}
		for _, path := range config.Paths(section + ".options") {
			key := strings.TrimPrefix(path, section+".options.")
			value := strings.TrimSpace(config.String(path))
			if strings.Contains(value, "|") {
				items := []any{}
				for _, item := range strings.Split(value, "|") {
					items = append(items, strings.TrimSpace(item))
				}
				response[key] = items
			} else {
				response[key] = value
			}
		}
	}
	if _, ok := response["bootp-assigned-address"]; !ok {
		address := allocate(client)
		if address == "" {
			log.Warn(map[string]any{"event": "error", "client": client, "reason": "no address available"})
			return nil
		}
		response["bootp-assigned-address"] = address
	}
	if rtype == "ack" {
		if value := j.String(request["requested-ip-address"]); value != "" && value != response["bootp-assigned-address"] {
			response["dhcp-message-type"] = "nak"
		}
	}
	return response
}

func handler(response http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		response.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(request.Body)
	if err != nil {
		response.WriteHeader(http.StatusUnprocessableEntity)
		return
	}
	var frame map[string]any

	if err := json.Unmarshal(body, &frame); err != nil {
		response.WriteHeader(http.StatusUnprocessableEntity)
		return
	}
	log.Info(map[string]any{
		"event":  "request",
		"type":   j.String(frame["dhcp-message-type"]),
		"client": j.String(frame["client-hardware-address"]),
	})
	rframe := answer(frame)
	if rframe == nil {
		response.WriteHeader(http.StatusNotFound)
		return
	}
	payload, err := json.Marshal(rframe)
	if err != nil {
		response.WriteHeader(http.StatusInternalServerError)
		return
	}
	response.Header().Set("Content-Type", "application/json")
	response.Write(payload)
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
	log = ulog.New(config.String("backend.log", "console(output=stderr)"))
	log.Info(map[string]any{"event": "start", "config": os.Args[1], "pid": os.Getpid()})

	http.HandleFunc("/", handler)
	for _, path := range config.Paths("backend.listen") {
		parts := strings.Split(strings.TrimSpace(config.String(path)), ",")
		server := &http.Server{
			Addr:         strings.TrimLeft(parts[0], "*"),
			ReadTimeout:  config.DurationBounds("backend.read_timeout", 10, 5, 30),
			IdleTimeout:  config.DurationBounds("backend.idle_timeout", 30, 5, 30),
			WriteTimeout: config.DurationBounds("backend.write_timeout", 15, 5, 30),
		}
		if len(parts) == 3 {
			certificates := &dynacert.DYNACERT{}
			certificates.Add("*", parts[1], parts[2])
			server.TLSConfig = certificates.TLSConfig(nil)
			server.TLSNextProto = map[string]func(*http.Server, *tls.Conn, http.Handler){}
			go func(server *http.Server, listen string) {
				log.Info(map[string]any{"event": "listen", "listen": listen})
				for {
					server.ListenAndServeTLS("", "")
					time.Sleep(time.Second)
				}
			}(server, parts[0])
		} else {
			go func(server *http.Server, listen string) {
				log.Info(map[string]any{"event": "listen", "listen": listen})
				for {
					server.ListenAndServe()
					time.Sleep(time.Second)
				}
			}(server, parts[0])
		}
	}
	select {}
}
