package redis

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// fakePeer speaks just enough RESP for Store: AUTH, SELECT, GET, SET [PX],
// DEL and SCAN.
type fakePeer struct {
	password string

	mu   sync.Mutex
	data map[string]fakeValue
	now  func() time.Time
	cmds []string
}

type fakeValue struct {
	v   string
	exp time.Time
}

func newFakePeer() *fakePeer {
	return &fakePeer{data: make(map[string]fakeValue), now: time.Now}
}

func (p *fakePeer) dial(context.Context, string, time.Duration) (net.Conn, error) {
	client, server := net.Pipe()
	go p.serve(server)
	return client, nil
}

func (p *fakePeer) commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.cmds...)
}

func (p *fakePeer) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		msg, err := readReply(r)
		if err != nil {
			return
		}
		parts, ok := msg.([]any)
		if !ok || len(parts) == 0 {
			return
		}
		args := make([]string, len(parts))
		for i, part := range parts {
			b, _ := part.([]byte)
			args[i] = string(b)
		}
		if _, err := conn.Write([]byte(p.handle(args))); err != nil {
			return
		}
	}
}

func (p *fakePeer) handle(args []string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmd := strings.ToUpper(args[0])
	p.cmds = append(p.cmds, cmd)

	switch cmd {
	case "AUTH":
		if args[1] != p.password {
			return "-WRONGPASS invalid password\r\n"
		}
		return "+OK\r\n"
	case "SELECT":
		return "+OK\r\n"
	case "GET":
		v, ok := p.data[args[1]]
		if !ok || (!v.exp.IsZero() && p.now().After(v.exp)) {
			delete(p.data, args[1])
			return "$-1\r\n"
		}
		return fmt.Sprintf("$%d\r\n%s\r\n", len(v.v), v.v)
	case "SET":
		val := fakeValue{v: args[2]}
		if len(args) == 5 && strings.EqualFold(args[3], "PX") {
			ms, _ := strconv.Atoi(args[4])
			val.exp = p.now().Add(time.Duration(ms) * time.Millisecond)
		}
		p.data[args[1]] = val
		return "+OK\r\n"
	case "DEL":
		if _, ok := p.data[args[1]]; !ok {
			return ":0\r\n"
		}
		delete(p.data, args[1])
		return ":1\r\n"
	case "SCAN":
		pattern := args[3]
		var keys []string
		for k := range p.data {
			if ok, _ := path.Match(pattern, k); ok {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString("*2\r\n$1\r\n0\r\n")
		fmt.Fprintf(&b, "*%d\r\n", len(keys))
		for _, k := range keys {
			fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(k), k)
		}
		return b.String()
	default:
		return "-ERR unknown command\r\n"
	}
}
