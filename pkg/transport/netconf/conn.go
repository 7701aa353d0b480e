// Package netconf is the NETCONF transport: RFC 6241 sessions over the SSH
// "netconf" subsystem, with the Junos RPCs for candidate configuration,
// commit options, and operational commands.
package netconf

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/newtron-network/newtfleet/pkg/util"
)

const (
	baseNS     = "urn:ietf:params:xml:ns:netconf:base:1.0"
	capBase10  = "urn:ietf:params:netconf:base:1.0"
	delimiter  = "]]>]]>"
	maxMessage = 64 << 20
)

// ErrClosed is returned for calls on a closed connection.
var ErrClosed = errors.New("netconf session closed")

// ReadFrame reads one end-of-message delimited frame and returns it without
// the delimiter.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		chunk, err := r.ReadBytes('>')
		buf.Write(chunk)
		if bytes.HasSuffix(buf.Bytes(), []byte(delimiter)) {
			return bytes.TrimSpace(buf.Bytes()[:buf.Len()-len(delimiter)]), nil
		}
		if err != nil {
			if err == io.EOF && buf.Len() > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if buf.Len() > maxMessage {
			return nil, fmt.Errorf("netconf message exceeds %d bytes", maxMessage)
		}
	}
}

// WriteFrame writes msg followed by the end-of-message delimiter.
func WriteFrame(w io.Writer, msg []byte) error {
	if _, err := w.Write(msg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n"+delimiter+"\n")
	return err
}

type hello struct {
	XMLName      xml.Name `xml:"hello"`
	Capabilities []string `xml:"capabilities>capability"`
	SessionID    string   `xml:"session-id,omitempty"`
}

type pendingReply struct {
	reply *Reply
	err   error
}

// Conn is an established NETCONF session. Calls may be issued concurrently;
// replies are matched to calls by message-id.
type Conn struct {
	rw io.ReadWriteCloser
	r  *bufio.Reader

	SessionID    string
	Capabilities []string

	wmu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[string]chan pendingReply
	err     error
	done    chan struct{}
}

// Open exchanges hellos over rw and starts the reply reader.
func Open(ctx context.Context, rw io.ReadWriteCloser) (*Conn, error) {
	c := &Conn{
		rw:      rw,
		r:       bufio.NewReader(rw),
		pending: make(map[string]chan pendingReply),
		done:    make(chan struct{}),
	}

	stop := context.AfterFunc(ctx, func() { rw.Close() })
	err := c.hello()
	if !stop() || ctx.Err() != nil {
		rw.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		rw.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

func (c *Conn) hello() error {
	ours, err := xml.Marshal(struct {
		XMLName      xml.Name `xml:"hello"`
		NS           string   `xml:"xmlns,attr"`
		Capabilities []string `xml:"capabilities>capability"`
	}{NS: baseNS, Capabilities: []string{capBase10}})
	if err != nil {
		return err
	}
	if err := WriteFrame(c.rw, ours); err != nil {
		return fmt.Errorf("sending hello: %w", err)
	}

	msg, err := ReadFrame(c.r)
	if err != nil {
		return fmt.Errorf("reading hello: %w", err)
	}
	var theirs hello
	if err := xml.Unmarshal(msg, &theirs); err != nil {
		return fmt.Errorf("decoding hello: %w", err)
	}
	if !hasCapability(theirs.Capabilities, capBase10) {
		return fmt.Errorf("server does not support %s", capBase10)
	}
	c.SessionID = theirs.SessionID
	c.Capabilities = theirs.Capabilities
	return nil
}

func hasCapability(caps []string, want string) bool {
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}

func (c *Conn) readLoop() {
	for {
		msg, err := ReadFrame(c.r)
		if err != nil {
			c.fail(err)
			return
		}
		var reply Reply
		if err := xml.Unmarshal(msg, &reply); err != nil {
			util.Debugf("netconf: undecodable message dropped: %v", err)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[reply.MessageID]
		delete(c.pending, reply.MessageID)
		c.mu.Unlock()
		if !ok {
			util.Debugf("netconf: reply for unknown message-id %q dropped", reply.MessageID)
			continue
		}
		ch <- pendingReply{reply: &reply}
	}
}

// fail ends the session and releases every waiting call.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		err = ErrClosed
	}
	c.err = err
	for id, ch := range c.pending {
		ch <- pendingReply{err: err}
		delete(c.pending, id)
	}
	close(c.done)
}

// Call sends one RPC whose body is the XML operation and waits for its
// reply. A reply carrying rpc-errors is returned with a nil error; use
// Reply.Err to interpret it.
func (c *Conn) Call(ctx context.Context, operation string) (*Reply, error) {
	ch := make(chan pendingReply, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	id := strconv.FormatUint(c.nextID, 10)
	c.pending[id] = ch
	c.mu.Unlock()

	msg := fmt.Sprintf(`<rpc message-id="%s" xmlns="%s">%s</rpc>`, id, baseNS, operation)
	c.wmu.Lock()
	err := WriteFrame(c.rw, []byte(msg))
	c.wmu.Unlock()
	if err != nil {
		c.forget(id)
		c.fail(err)
		return nil, err
	}

	select {
	case r := <-ch:
		return r.reply, r.err
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Conn) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Done is closed when the session ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close sends close-session when the session is up and idle, then closes
// the underlying stream. With calls outstanding it closes immediately, which
// fails those calls.
func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	alive := c.err == nil && len(c.pending) == 0
	c.mu.Unlock()
	if alive {
		if _, err := c.Call(ctx, "<close-session/>"); err != nil {
			util.Debugf("netconf: close-session: %v", err)
		}
	}
	err := c.rw.Close()
	c.fail(ErrClosed)
	return err
}
