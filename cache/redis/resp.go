package redis

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ServerError is an error reply ("-ERR ...") sent by the server. The
// connection that received it stays usable.
type ServerError string

func (e ServerError) Error() string { return "redis: " + string(e) }

func isServerError(err error) bool {
	var se ServerError
	return errors.As(err, &se)
}

// writeCommand encodes args as a RESP array of bulk strings and flushes.
func writeCommand(w *bufio.Writer, args ...string) error {
	w.WriteByte('*')
	w.WriteString(strconv.Itoa(len(args)))
	w.WriteString("\r\n")
	for _, arg := range args {
		w.WriteByte('$')
		w.WriteString(strconv.Itoa(len(arg)))
		w.WriteString("\r\n")
		w.WriteString(arg)
		w.WriteString("\r\n")
	}
	return w.Flush()
}

// readReply decodes one RESP2 value: simple strings become string, integers
// int64, bulk strings []byte, arrays []any, and null bulk or array nil.
func readReply(r *bufio.Reader) (any, error) {
	kind, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	switch kind {
	case '+':
		return line, nil
	case '-':
		return nil, ServerError(line)
	case ':':
		return strconv.ParseInt(line, 10, 64)
	case '$':
		n, err := strconv.Atoi(line)
		if err != nil || n < -1 {
			return nil, fmt.Errorf("redis: bad bulk length %q", line)
		}
		if n == -1 {
			return nil, nil
		}
		data := make([]byte, n+2)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
		if data[n] != '\r' || data[n+1] != '\n' {
			return nil, errors.New("redis: malformed bulk terminator")
		}
		return data[:n], nil
	case '*':
		n, err := strconv.Atoi(line)
		if err != nil || n < -1 {
			return nil, fmt.Errorf("redis: bad array length %q", line)
		}
		if n == -1 {
			return nil, nil
		}
		items := make([]any, n)
		for i := range items {
			if items[i], err = readReply(r); err != nil {
				return nil, err
			}
		}
		return items, nil
	default:
		return nil, fmt.Errorf("redis: unsupported reply type %q", kind)
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(line, "\r\n") {
		return "", errors.New("redis: malformed line terminator")
	}
	return line[:len(line)-2], nil
}
