package main

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pyke369/golang-support/multiflag"
	"github.com/pyke369/golang-support/ulog"
	"github.com/pyke369/golang-support/ustr"
)

type PACKET struct {
	data   []byte
	remote *net.UDPAddr
}

// SERVER owns the service socket, the pending-request table and the worker
// pool. Everything it owns is mutated from the single run loop goroutine;
// socket and pipe readers only feed the two channels.
type SERVER struct {
	conn     *net.UDPConn
	pool     *POOL
	requests *REQUESTS
	log      *ulog.ULog
	packets  chan PACKET
	events   chan EVENT
	backend  string
	remote   *http.Client
	headers  multiflag.Multiflag
}

type ServerOptions struct {
	Backend     string
	Workers     int
	Credentials string
	Headers     multiflag.Multiflag
	Insecure    bool
	CACert      string
	Cert        string
	Timeout     int
}

func NewServer(conn *net.UDPConn, options ServerOptions, log *ulog.ULog) (*SERVER, error) {
	server := &SERVER{
		conn:     conn,
		requests: NewRequests(),
		log:      log,
		packets:  make(chan PACKET, 1024),
		events:   make(chan EVENT, 1024),
		headers:  options.Headers,
	}
	if strings.HasPrefix(options.Backend, "http") {
		server.backend = options.Backend
		transport := &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: options.Insecure}}
		if path := strings.TrimSpace(options.CACert); path != "" {
			if content, err := os.ReadFile(path); err == nil {
				if der, _ := pem.Decode(content); der != nil && der.Type == "CERTIFICATE" {
					if cert, err := x509.ParseCertificate(der.Bytes); err == nil && cert.IsCA {
						pool := x509.NewCertPool()
						pool.AddCert(cert)
						transport.TLSClientConfig.RootCAs = pool
					}
				}
			}
		}
		if parts := strings.Split(options.Cert, ","); len(parts) == 2 {
			if cert, err := tls.LoadX509KeyPair(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])); err == nil {
				transport.TLSClientConfig.Certificates = []tls.Certificate{cert}
			}
		}
		server.remote = &http.Client{Timeout: time.Duration(options.Timeout) * time.Second, Transport: transport}

	} else {
		pool, err := NewPool(options.Backend, options.Workers, options.Credentials, server.events)
		if err != nil {
			return nil, err
		}
		server.pool = pool
	}
	return server, nil
}

// Run multiplexes the service socket, the worker pipes and the 1Hz tick. It
// only returns when the service socket dies.
func (s *SERVER) Run() error {
	failed := make(chan error, 1)
	go func() {
		for {
			packet := make([]byte, 4<<10)
			read, remote, err := s.conn.ReadFromUDP(packet)
			if err != nil {
				failed <- err
				return
			}
			s.packets <- PACKET{data: packet[:read], remote: remote}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	s.tick(time.Now())
	for {
		select {
		case packet := <-s.packets:
			s.request(packet)

		case event := <-s.events:
			switch event.kind {
			case EVENT_LINE:
				s.reply(event.worker, event.line)

			case EVENT_HTTP:
				s.reply(nil, event.line)

			case EVENT_STDERR:
				s.log.Warn(map[string]any{"event": "worker", "worker": event.worker.pid, "reason": string(event.line)})

			case EVENT_EOF:
				event.worker.active = time.Time{}

			case EVENT_EXIT:
				event.worker.exited, event.worker.status = true, event.status
			}

		case now := <-ticker.C:
			s.tick(now)

		case err := <-failed:
			return err
		}
	}
}

func txid(key [11]byte) string {
	return ustr.Hex(key[:6], ':') + "/" + hex.EncodeToString(key[6:10])
}

// request decodes one inbound frame, registers it in the pending table and
// steers its JSON form to a live worker (or the remote backend).
func (s *SERVER) request(packet PACKET) {
	now := time.Now()
	frame, meta, err := v4decode(packet.data)
	if err != nil {
		s.log.Warn(map[string]any{"event": "request", "client": packet.remote.String(), "reason": err.Error()})
		return
	}
	if meta.op != BOOTREQUEST {
		return
	}
	pending := &PENDING{key: meta.key, remote: packet.remote, created: now, expire: meta.expire, mtype: meta.mtype, frame: frame}
	s.requests.insert(pending)
	s.log.Info(map[string]any{
		"event":  "request",
		"type":   msgtypename(meta.mtype),
		"txid":   txid(meta.key),
		"client": packet.remote.String(),
	})

	if s.remote != nil {
		go s.forward(frame, meta)
		return
	}
	if s.pool.available(now) == 0 {
		s.log.Warn(map[string]any{"event": "send", "txid": txid(meta.key), "reason": "no available backend worker"})
		s.requests.erase(meta.key)
		return
	}
	worker := s.pool.pick(meta.key[5], now)
	payload, err := json.Marshal(frame)
	if err != nil {
		s.requests.erase(meta.key)
		return
	}
	payload = append(payload, '\n')
	if written, err := worker.stdin.Write(payload); err != nil || written != len(payload) {
		reason := "short write"
		if err != nil {
			reason = err.Error()
		}
		s.log.Warn(map[string]any{"event": "send", "txid": txid(meta.key), "worker": worker.pid, "reason": reason})
		return
	}
	s.log.Info(map[string]any{
		"event":  "send",
		"type":   msgtypename(meta.mtype),
		"txid":   txid(meta.key),
		"worker": worker.pid,
	})
}

// forward hands one request to the remote HTTP backend; the response body is
// re-injected into the run loop as a worker line would be.
func (s *SERVER) forward(frame FRAME, meta *META) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	request, err := http.NewRequest(http.MethodPost, s.backend, bytes.NewBuffer(payload))
	if err != nil {
		return
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("User-Agent", PROGNAME+"/"+PROGVER)
	for _, header := range s.headers {
		request.Header.Set(header[0], header[1])
	}
	response, err := s.remote.Do(request)
	if err != nil {
		s.log.Warn(map[string]any{"event": "send", "txid": txid(meta.key), "remote": s.backend, "reason": err.Error()})
		return
	}
	body, _ := io.ReadAll(response.Body)
	response.Body.Close()
	if response.StatusCode/100 != 2 {
		s.log.Warn(map[string]any{"event": "recv", "txid": txid(meta.key), "remote": s.backend, "status": response.StatusCode})
		return
	}
	s.events <- EVENT{kind: EVENT_HTTP, line: bytes.TrimSpace(body)}
}

// reply encodes one backend line, correlates it with its pending request and
// sends the frame back on the wire (giaddr unicast or limited broadcast).
func (s *SERVER) reply(worker *WORKER, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	source := "remote"
	if worker != nil {
		source = ustr.Int(worker.pid)
	}
	packet, meta, err := v4encode(line)
	if err != nil {
		s.log.Warn(map[string]any{"event": "recv", "worker": source, "reason": "invalid JSON from backend worker (" + err.Error() + ")"})
		return
	}
	if worker != nil {
		worker.active = time.Now()
	}
	pending := s.requests.lookup(meta.key)
	if pending == nil {
		s.log.Warn(map[string]any{"event": "recv", "worker": source, "txid": txid(meta.key), "reason": "no matching pending request"})
		return
	}
	destination := &net.UDPAddr{IP: net.IPv4bcast, Port: pending.remote.Port}
	if giaddr := binary.BigEndian.Uint32(packet[AT_GIADDR:]); giaddr != 0 {
		destination.IP = net.IPv4(packet[AT_GIADDR], packet[AT_GIADDR+1], packet[AT_GIADDR+2], packet[AT_GIADDR+3])
	}
	if _, err := s.conn.WriteToUDP(packet, destination); err != nil {
		s.log.Warn(map[string]any{"event": "reply", "txid": txid(meta.key), "client": destination.String(), "reason": err.Error()})
		return
	}
	s.log.Info(map[string]any{
		"event":    "reply",
		"type":     msgtypename(meta.mtype),
		"txid":     txid(meta.key),
		"client":   destination.String(),
		"address":  v4addr(packet[AT_YIADDR : AT_YIADDR+4]),
		"duration": ustr.Duration(time.Since(pending.created)),
	})
	s.requests.erase(meta.key)
}

// tick is the 1Hz maintenance pass: reap exited workers, respawn to the
// configured count, evict expired pending requests.
func (s *SERVER) tick(now time.Time) {
	if s.pool != nil {
		for _, worker := range s.pool.reap() {
			s.log.Warn(map[string]any{"event": "stop", "worker": worker.pid, "status": worker.status})
		}
		spawned, failed := s.pool.respawn()
		for _, worker := range spawned {
			s.log.Info(map[string]any{"event": "start", "local": worker.cmd.Path, "worker": worker.pid})
		}
		if failed != nil {
			s.log.Warn(map[string]any{"event": "start", "reason": failed.Error()})
		}
	}
	for _, pending := range s.requests.expire(now) {
		s.log.Warn(map[string]any{
			"event":  "expire",
			"type":   msgtypename(pending.mtype),
			"txid":   txid(pending.key),
			"reason": "no backend response",
		})
	}
}
