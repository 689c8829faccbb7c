package redis

import (
	"bufio"
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestWriteCommand(t *testing.T) {
	var buf bytes.Buffer
	if err := writeCommand(bufio.NewWriter(&buf), "SET", "k", "", "PX", "10"); err != nil {
		t.Fatalf("writeCommand() error = %v", err)
	}
	want := "*5\r\n$3\r\nSET\r\n$1\r\nk\r\n$0\r\n\r\n$2\r\nPX\r\n$2\r\n10\r\n"
	if buf.String() != want {
		t.Fatalf("writeCommand() = %q, want %q", buf.String(), want)
	}
}

func TestReadReply(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want any
	}{
		{"simple", "+OK\r\n", "OK"},
		{"integer", ":42\r\n", int64(42)},
		{"bulk", "$5\r\nhe\r\no\r\n", []byte("he\r\no")},
		{"empty bulk", "$0\r\n\r\n", []byte{}},
		{"null bulk", "$-1\r\n", nil},
		{"null array", "*-1\r\n", nil},
		{"nested", "*2\r\n$1\r\n0\r\n*1\r\n$3\r\nkey\r\n", []any{[]byte("0"), []any{[]byte("key")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readReply(bufio.NewReader(strings.NewReader(tt.in)))
			if err != nil {
				t.Fatalf("readReply() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("readReply() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestReadReplyErrors(t *testing.T) {
	_, err := readReply(bufio.NewReader(strings.NewReader("-ERR wrong type\r\n")))
	var se ServerError
	if !errors.As(err, &se) || string(se) != "ERR wrong type" {
		t.Fatalf("readReply() error = %v, want ServerError", err)
	}
	if !isServerError(err) {
		t.Fatal("isServerError() = false")
	}

	for _, in := range []string{"$3\r\nabcXY", "$-2\r\n", "*x\r\n", "?\r\n", "+OK\n", ""} {
		if _, err := readReply(bufio.NewReader(strings.NewReader(in))); err == nil || isServerError(err) {
			t.Fatalf("readReply(%q) error = %v", in, err)
		}
	}
}
