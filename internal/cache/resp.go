package cache

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// replyKind enumerates the subset of RESP2 replies the client understands.
type replyKind byte

const (
	kindSimple  replyKind = '+'
	kindError   replyKind = '-'
	kindInteger replyKind = ':'
	kindBulk    replyKind = '$'
	kindNil     replyKind = '_'
)

type reply struct {
	kind replyKind
	data []byte
}

func (r reply) isOK() bool { return r.kind == kindSimple && string(r.data) == "OK" }

// serverError is an error reply sent by the server. It is never retried.
type serverError string

func (e serverError) Error() string { return "valkey: " + string(e) }

// respConn is one connection speaking RESP2.
type respConn struct {
	conn         net.Conn
	r            *bufio.Reader
	w            *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func newRespConn(conn net.Conn, readTimeout, writeTimeout time.Duration) *respConn {
	return &respConn{
		conn:         conn,
		r:            bufio.NewReader(conn),
		w:            bufio.NewWriter(conn),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// do sends one command and reads its reply.
func (c *respConn) do(args ...[]byte) (reply, error) {
	if err := c.send(args...); err != nil {
		return reply{}, err
	}
	return c.receive()
}

func (c *respConn) send(args ...[]byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	fmt.Fprintf(c.w, "*%d\r\n", len(args))
	for _, a := range args {
		fmt.Fprintf(c.w, "$%d\r\n", len(a))
		c.w.Write(a)
		c.w.WriteString("\r\n")
	}
	return c.w.Flush()
}

func (c *respConn) receive() (reply, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return reply{}, err
	}
	prefix, err := c.r.ReadByte()
	if err != nil {
		return reply{}, err
	}
	line, err := c.line()
	if err != nil {
		return reply{}, err
	}
	switch replyKind(prefix) {
	case kindSimple, kindInteger:
		return reply{kind: replyKind(prefix), data: line}, nil
	case kindError:
		return reply{}, serverError(line)
	case kindBulk:
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return reply{}, fmt.Errorf("invalid bulk length %q", line)
		}
		if size < 0 {
			return reply{kind: kindNil}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(c.r, buf); err != nil {
			return reply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return reply{}, errors.New("invalid bulk termination")
		}
		return reply{kind: kindBulk, data: buf[:size]}, nil
	default:
		return reply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (c *respConn) line() ([]byte, error) {
	line, err := c.r.ReadSlice('\n')
	if err != nil {
		return nil, err
	}
	n := len(line) - 1
	if n > 0 && line[n-1] == '\r' {
		n--
	}
	return append([]byte(nil), line[:n]...), nil
}

func (c *respConn) close() error { return c.conn.Close() }
