package main

import (
	"context"
	"flag"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	j "github.com/pyke369/golang-support/jsonrpc"
	"github.com/pyke369/golang-support/multiflag"
	"github.com/pyke369/golang-support/ulog"
	"golang.org/x/sys/unix"
)

const PROGNAME = "jdhcp"
const PROGVER = "1.0.0"

func bail(message string, extra ...int) {
	if message != "" {
		os.Stderr.WriteString(message + " - aborting\n")
	}
	if len(extra) > 0 {
		os.Exit(extra[0])
	}
	if message != "" {
		os.Exit(1)
	}
	os.Exit(0)
}

// pidcheck refuses to start over a live previous instance and records our own
// pid otherwise. Stale files are overwritten.
func pidcheck(path string) error {
	if content, err := os.ReadFile(path); err == nil {
		if pid, _ := strconv.Atoi(strings.TrimSpace(string(content))); pid > 0 {
			if syscall.Kill(pid, 0) == nil {
				return os.ErrExist
			}
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func main() {
	var flags flag.FlagSet

	flags = flag.FlagSet{Usage: func() {
		os.Stderr.WriteString("usage: " + filepath.Base(os.Args[0]) + " [<option>...]\n\noptions are:\n")
		flags.PrintDefaults()
	}}
	headers := multiflag.Multiflag{}
	version := flags.Bool("version", j.Boolean(os.Getenv("JDHCP_VERSION")), "display program version and exit")
	list := flags.Bool("listkeys", j.Boolean(os.Getenv("JDHCP_LISTKEYS")), "list all keys useable in the backend protocol and exit")
	verbose := flags.Bool("verbose", j.Boolean(os.Getenv("JDHCP_VERBOSE")), "add the backend command to the startup log entry (server mode)")
	address := flags.String("address", j.String(os.Getenv("JDHCP_ADDRESS"), "0.0.0.0"), "use specified server address")
	port := flags.Int("port", int(j.Number(os.Getenv("JDHCP_PORT"), 67)), "use specified server UDP port")
	device := flags.String("interface", os.Getenv("JDHCP_INTERFACE"), "use specified interface")
	retries := flags.Int("retries", int(j.Number(os.Getenv("JDHCP_RETRIES"), 3)), "set requests retry count (client mode)")
	request := flags.String("request", os.Getenv("JDHCP_REQUEST"), "add specified attributes to the request (client mode)")
	backend := flags.String("backend", os.Getenv("JDHCP_BACKEND"), "run backend command or post to backend url (server mode)")
	creds := flags.String("credentials", os.Getenv("JDHCP_CREDENTIALS"), "run backend command under specified user[:group]")
	workers := flags.Int("workers", int(j.Number(os.Getenv("JDHCP_WORKERS"), 1)), "set backend workers count (server mode)")
	facility := flags.String("facility", j.String(os.Getenv("JDHCP_FACILITY"), "daemon"), "set syslog logging facility")
	pidfile := flags.String("pidfile", os.Getenv("JDHCP_PIDFILE"), "use specified path to store PID (server mode)")
	insecure := flags.Bool("insecure", j.Boolean(os.Getenv("JDHCP_INSECURE")), "allow insecure TLS connections (remote backend)")
	flags.Var(&headers, "header", "add HTTP header (remote backend / repeatable)")
	cert := flags.String("cert", os.Getenv("JDHCP_CERT"), "use client certificate pair (remote backend)")
	cacert := flags.String("cacert", os.Getenv("JDHCP_CACERT"), "use CA certificate (remote backend)")
	timeout := flags.Int("timeout", int(j.Number(os.Getenv("JDHCP_TIMEOUT"), 7)), "set remote backend timeout")
	if err := flags.Parse(os.Args[1:]); err != nil {
		bail("", 1)
	}

	*retries = min(5, max(1, *retries))
	*workers = min(MAX_WORKERS, max(1, *workers))
	*timeout = min(30, max(3, *timeout))

	if *version {
		os.Stdout.WriteString(PROGNAME + " v" + PROGVER + "\n")
		os.Exit(0)
	}
	if *list {
		listkeys(os.Stdout)
		os.Exit(0)
	}

	if *backend == "" {
		if *device == "" {
			bail("no interface specified in client mode")
		}
		if err := discover(*device, *port, *retries, *request); err != nil {
			bail(err.Error())
		}
		os.Exit(0)
	}

	logger := ulog.New("console(output=stderr,time=msdatetime) syslog(facility=" + *facility + ")")
	logger.SetOrder([]string{
		"event", "bind", "version", "pid", "txid", "type", "local", "worker", "remote",
		"client", "address", "duration", "reason", "status",
	})
	event := map[string]any{"event": "start", "version": PROGVER, "pid": os.Getpid()}
	if *verbose {
		event["local"] = *backend
	}
	logger.Info(event)

	if *pidfile != "" {
		if err := pidcheck(*pidfile); err != nil {
			if err == os.ErrExist {
				bail("another instance is already running")
			}
			bail("cannot write pidfile " + *pidfile + " (" + err.Error() + ")")
		}
	}

	config := net.ListenConfig{
		Control: func(network, address string, connection syscall.RawConn) error {
			connection.Control(func(handle uintptr) {
				syscall.SetsockoptInt(int(handle), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
				syscall.SetsockoptInt(int(handle), syscall.SOL_SOCKET, unix.SO_REUSEPORT, 1)
				syscall.SetsockoptInt(int(handle), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
				if *device != "" {
					BindToDevice(int(handle), *device)
				}
			})
			return nil
		},
	}
	listener, err := config.ListenPacket(context.Background(), "udp4", *address+":"+strconv.Itoa(*port))
	if err != nil {
		bail("cannot bind service socket [" + *address + ":" + strconv.Itoa(*port) + "] (" + err.Error() + ")")
	}
	conn := listener.(*net.UDPConn)
	logger.Info(map[string]any{"event": "bind", "bind": *address + ":" + strconv.Itoa(*port)})

	server, err := NewServer(conn, ServerOptions{
		Backend:     *backend,
		Workers:     *workers,
		Credentials: *creds,
		Headers:     headers,
		Insecure:    *insecure,
		CACert:      *cacert,
		Cert:        *cert,
		Timeout:     *timeout,
	}, logger)
	if err != nil {
		bail(err.Error())
	}
	if err := server.Run(); err != nil {
		bail(err.Error())
	}
}
