// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

// rvncclient is a headless reference client: it drives vnc.Client through a
// full session and logs the events it receives. There is no graphical
// front-end here (rendering is explicitly out of scope) -- only the
// protocol-driving control flow survives from original_source/bin/client.rs,
// including its --heinous-qemu-hacks poke-instead-of-poll quirk mode.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/miekg/dns"
	"github.com/peterh/liner"
	"golang.org/x/crypto/ssh/terminal"
	"golang.org/x/net/proxy"

	log "github.com/sandia-minimega/rvnc/internal/minilog"
	"github.com/sandia-minimega/rvnc/vnc"
)

var (
	f_username   = flag.String("username", "", "username, for Apple Remote Desktop authentication")
	f_password   = flag.String("password", "", "password; prompted for if a security type needs one and this is empty")
	f_exclusive  = flag.Bool("exclusive", false, "request a non-shared session")
	f_qemuHacks  = flag.Bool("heinous-qemu-hacks", false, "poke the server on a timer instead of polling for updates, working around QEMU/XenHVM's broken incremental update handling")
	f_dnsServer  = flag.String("dns-server", "", "resolve HOST through this DNS server instead of the system resolver")
	f_socksProxy = flag.String("socks-proxy", "", "dial through this SOCKS5 proxy (host:port) instead of connecting directly")
	f_dialTime   = flag.Duration("dial-timeout", 3*time.Second, "timeout for the initial TCP connection")
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: rvncclient [option]... HOST PORT")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	log.Init()

	if flag.NArg() != 2 {
		usage()
		os.Exit(1)
	}
	host := flag.Arg(0)
	port, err := strconv.ParseUint(flag.Arg(1), 10, 16)
	if err != nil {
		log.Fatalln("bad port:", err)
	}

	addr, err := resolveTarget(host, *f_dnsServer)
	if err != nil {
		log.Fatalln("cannot resolve", host, ":", err)
	}

	conn, err := dialTarget(addr, uint16(port))
	if err != nil {
		log.Fatalln("cannot connect to", addr, ":", err)
	}
	log.Info("connected to %v:%v", addr, port)

	client, err := vnc.Connect(vnc.WrapConn(conn), !*f_exclusive, decideAuth)
	if err != nil {
		log.Fatalln("cannot initialize VNC session:", err)
	}
	defer client.Close()

	width, height := client.Size()
	log.Info("session %q, %vx%v framebuffer, format %+v", client.Name(), width, height, client.Format())

	if *f_qemuHacks {
		client.SetEncodings([]vnc.Encoding{vnc.EncodingZrle, vnc.EncodingDesktopSize})
	} else {
		client.SetEncodings([]vnc.Encoding{
			vnc.EncodingZrle,
			vnc.EncodingCopyRect,
			vnc.EncodingRaw,
			vnc.EncodingCursor,
			vnc.EncodingDesktopSize,
		})
	}

	if err := client.RequestUpdate(vnc.Rect{Width: width, Height: height}, false); err != nil {
		log.Fatalln("initial update request failed:", err)
	}

	console := newConsole(client)
	defer console.Close()

	qemuRTT := 1000 * time.Millisecond
	nextPoke := time.Now().Add(qemuRTT / 2)
	incremental := true

	for client.State() != vnc.StateClosed {
		for _, ev := range client.PollIter() {
			if logEvent(ev, &width, &height, &incremental) {
				return
			}
		}

		if console.pollLine() {
			return
		}

		if *f_qemuHacks {
			if time.Now().After(nextPoke) {
				client.PokeServer()
				nextPoke = time.Now().Add(qemuRTT / 2)
			}
		} else {
			client.RequestUpdate(vnc.Rect{Width: width, Height: height}, incremental)
		}

		time.Sleep(16 * time.Millisecond)
	}
}

// logEvent reports one poll event and returns true if the session ended.
func logEvent(ev vnc.Event, width, height *uint16, incremental *bool) bool {
	switch ev.Kind {
	case vnc.EventDisconnected:
		if ev.Err != nil {
			log.Error("server disconnected: %v", ev.Err)
		} else {
			log.Info("server disconnected")
		}
		return true
	case vnc.EventResize:
		*width, *height = ev.Width, ev.Height
		*incremental = false
		log.Info("resize to %vx%v", ev.Width, ev.Height)
	case vnc.EventPutPixels:
		log.Debug("put %v bytes at %+v", len(ev.Pixels), ev.Rect)
	case vnc.EventCopyPixels:
		log.Debug("copy %+v to %+v", ev.Src, ev.Dst)
	case vnc.EventSetCursor:
		log.Debug("cursor %vx%v hotspot %+v", ev.CursorSize[0], ev.CursorSize[1], ev.Hotspot)
	case vnc.EventClipboard:
		log.Debug("clipboard: %q", ev.Text)
	case vnc.EventEndOfFrame:
		// nothing to report
	}
	return false
}

// decideAuth picks the strongest method the server offered that we have
// credentials for, prompting on the terminal when a password is needed but
// wasn't given on the command line.
func decideAuth(methods []vnc.AuthMethod) (vnc.AuthChoice, bool) {
	for _, m := range methods {
		switch m {
		case vnc.AuthAppleRemoteDesktop:
			if *f_username != "" {
				return vnc.AuthChoice{
					Method:   vnc.AuthAppleRemoteDesktop,
					Username: *f_username,
					ARDPass:  password(),
				}, true
			}
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
	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := terminal.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		log.Fatalln("cannot read password:", err)
	}
	cachedPassword = string(pw)
	return cachedPassword
}

// resolveTarget resolves host to an address, optionally through an explicit
// DNS server rather than the system resolver.
func resolveTarget(host, dnsServer string) (string, error) {
	if dnsServer == "" || net.ParseIP(host) != nil {
		return host, nil
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	r, err := dns.Exchange(m, net.JoinHostPort(dnsServer, "53"))
	if err != nil {
		return "", err
	}
	for _, ans := range r.Answer {
		if a, ok := ans.(*dns.A); ok {
			return a.A.String(), nil
		}
	}
	return "", fmt.Errorf("no A record for %v at %v", host, dnsServer)
}

// dialTarget connects to addr:port, optionally through a SOCKS5 proxy.
func dialTarget(addr string, port uint16) (net.Conn, error) {
	target := net.JoinHostPort(addr, strconv.Itoa(int(port)))

	if *f_socksProxy != "" {
		dialer, err := proxy.SOCKS5("tcp", *f_socksProxy, nil, proxy.Direct)
		if err != nil {
			return nil, err
		}
		return dialer.Dial("tcp", target)
	}

	return net.DialTimeout("tcp", target, *f_dialTime)
}

// console drives an interactive line-editing session on stdin, translating
// typed commands into client operations. This is the host event loop
// spec.md §5 leaves to the caller, built the way the teacher builds its own
// command console.
type console struct {
	client *vnc.Client
	line   *liner.State
	input  chan string
}

func newConsole(client *vnc.Client) *console {
	c := &console{client: client, line: liner.NewLiner(), input: make(chan string, 8)}
	c.line.SetCtrlCAborts(true)
	go func() {
		defer close(c.input)
		for {
			text, err := c.line.Prompt("rvncclient> ")
			if err == liner.ErrPromptAborted {
				continue
			}
			if text = strings.TrimSpace(text); text != "" {
				c.line.AppendHistory(text)
				c.input <- text
			}
			if err != nil {
				return
			}
		}
	}()
	return c
}

func (c *console) Close() error { return c.line.Close() }

// pollLine drains any console commands typed since the last call. Returns
// true once stdin is closed and the session should end.
func (c *console) pollLine() bool {
	for {
		select {
		case text, ok := <-c.input:
			if !ok {
				return true
			}
			c.runCommand(text)
		default:
			return false
		}
	}
}

func (c *console) runCommand(text string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "key":
		if len(fields) != 3 {
			log.Errorln("usage: key <down|up> <keysym>")
			return
		}
		keysym, err := strconv.ParseUint(fields[2], 0, 32)
		if err != nil {
			log.Errorln("bad keysym:", err)
			return
		}
		c.client.SendKeyEvent(fields[1] == "down", uint32(keysym))
	case "pointer":
		if len(fields) != 4 {
			log.Errorln("usage: pointer <buttons> <x> <y>")
			return
		}
		buttons, _ := strconv.ParseUint(fields[1], 0, 8)
		x, _ := strconv.ParseUint(fields[2], 10, 16)
		y, _ := strconv.ParseUint(fields[3], 10, 16)
		c.client.SendPointerEvent(uint8(buttons), uint16(x), uint16(y))
	case "clipboard":
		c.client.UpdateClipboard(strings.Join(fields[1:], " "))
	case "poke":
		c.client.PokeServer()
	default:
		log.Errorln("unrecognized command:", fields[0])
	}
}
