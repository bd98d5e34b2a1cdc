// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

// rvncproxy is a reference proxy binary: it accepts downstream client
// connections and splices each onto a freshly dialed upstream server
// connection via vnc.Proxy, mirroring original_source/bin/proxy.rs's
// TcpListener/TcpStream loop. Unlike the original, each accepted connection
// is served on its own goroutine so one slow session cannot stall the
// listener.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"

	"golang.org/x/crypto/ssh/terminal"

	log "github.com/sandia-minimega/rvnc/internal/minilog"
	"github.com/sandia-minimega/rvnc/vnc"
)

var (
	f_username = flag.String("username", "", "username to present to the upstream server, for Apple Remote Desktop authentication")
	f_password = flag.String("password", "", "password to present to the upstream server; prompted for if needed and empty")
	f_shared   = flag.Bool("shared", true, "request a shared session from the upstream server")
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: rvncproxy [option]... CONNECT-HOST [CONNECT-PORT] [LISTEN-HOST] [LISTEN-PORT]")
	fmt.Fprintln(os.Stderr, "  CONNECT-PORT defaults to 5900, LISTEN-HOST to localhost, LISTEN-PORT to CONNECT-PORT+1")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	log.Init()

	if flag.NArg() < 1 || flag.NArg() > 4 {
		usage()
		os.Exit(1)
	}

	connectHost := flag.Arg(0)
	connectPort := argUint16(1, 5900)
	listenHost := argString(2, "localhost")
	listenPort := argUint16(3, connectPort+1)

	log.Info("listening at %v:%v", listenHost, listenPort)
	listener, err := net.Listen("tcp", net.JoinHostPort(listenHost, strconv.Itoa(int(listenPort))))
	if err != nil {
		log.Fatalln("cannot listen at", listenHost, listenPort, ":", err)
	}

	for {
		clientConn, err := listener.Accept()
		if err != nil {
			log.Errorln("incoming connection failed:", err)
			continue
		}

		go serve(clientConn, net.JoinHostPort(connectHost, strconv.Itoa(int(connectPort))))
	}
}

func serve(clientConn net.Conn, serverAddr string) {
	log.Info("connecting to %v", serverAddr)
	serverConn, err := net.Dial("tcp", serverAddr)
	if err != nil {
		log.Errorln("cannot connect to", serverAddr, ":", err)
		clientConn.Close()
		return
	}

	proxy, err := vnc.NewProxy(vnc.WrapConn(clientConn), vnc.WrapConn(serverConn), *f_shared, decideAuth)
	if err != nil {
		log.Errorln("handshake failed:", err)
		clientConn.Close()
		serverConn.Close()
		return
	}

	if err := proxy.Join(); err != nil {
		log.Errorln("session failed:", err)
	} else {
		log.Infoln("session ended")
	}
}

func decideAuth(methods []vnc.AuthMethod) (vnc.AuthChoice, bool) {
	for _, m := range methods {
		if m == vnc.AuthAppleRemoteDesktop && *f_username != "" {
			return vnc.AuthChoice{Method: vnc.AuthAppleRemoteDesktop, Username: *f_username, ARDPass: password()}, true
		}
	}
	for _, m := range methods {
		if m == vnc.AuthVNC {
			var key [8]byte
			copy(key[:], password())
			return vnc.AuthChoice{Method: vnc.AuthVNC, Password: key}, true
		}
	}
	for _, m := range methods {
		if m == vnc.AuthNone {
			return vnc.AuthChoice{Method: vnc.AuthNone}, true
		}
	}
	return vnc.AuthChoice{}, false
}

var cachedPassword string

func password() string {
	if *f_password != "" {
		return *f_password
	}
	if cachedPassword != "" {
		return cachedPassword
	}
	fmt.Fprint(os.Stderr, "Upstream password: ")
	pw, err := terminal.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		log.Fatalln("cannot read password:", err)
	}
	cachedPassword = string(pw)
	return cachedPassword
}

func argString(i int, def string) string {
	if i < flag.NArg() {
		return flag.Arg(i)
	}
	return def
}

func argUint16(i int, def uint16) uint16 {
	if i < flag.NArg() {
		n, err := strconv.ParseUint(flag.Arg(i), 10, 16)
		if err != nil {
			log.Fatalln("bad port:", err)
		}
		return uint16(n)
	}
	return def
}
