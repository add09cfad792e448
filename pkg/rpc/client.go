package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/logger"
)

// DefaultDialTimeout bounds connection setup when the caller's context has no
// deadline.
const DefaultDialTimeout = 5 * time.Second

// ErrClosed is returned by Call after Close.
var ErrClosed = errors.New("rpc client closed")

// RemoteError is an error returned by the server's handler.
type RemoteError struct {
	Method  string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("rpc %s: %s", e.Method, e.Message)
	}
	return fmt.Sprintf("rpc %s: %s (%s)", e.Method, e.Message, e.Code)
}

// IsCode reports whether err is a RemoteError carrying code.
func IsCode(err error, code string) bool {
	var remote *RemoteError
	return errors.As(err, &remote) && remote.Code == code
}

type conn struct {
	net.Conn
	enc *json.Encoder
	dec *json.Decoder
}

// Client is a JSON-over-TCP RPC client holding one connection. Calls are
// serialised. A transport failure drops the connection and the next call
// dials again.
type Client struct {
	addr   string
	mu     sync.Mutex
	conn   *conn
	nextID int64
	closed bool
}

// Dial connects to an RPC server at addr.
func Dial(addr string) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultDialTimeout)
	defer cancel()
	return DialContext(ctx, addr)
}

// DialContext connects to addr, bounded by ctx.
func DialContext(ctx context.Context, addr string) (*Client, error) {
	c := &Client{addr: addr}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	var d net.Dialer
	if _, ok := ctx.Deadline(); !ok {
		d.Timeout = DefaultDialTimeout
	}
	nc, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.addr, err)
	}
	c.conn = &conn{Conn: nc, enc: json.NewEncoder(nc), dec: json.NewDecoder(nc)}
	return nil
}

// drop closes a connection whose stream state is unknown.
func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Call invokes method with params and decodes the response data into result,
// which may be nil. The context deadline bounds the round trip and is
// forwarded to the server. Handler failures come back as *RemoteError.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshaling params: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.conn == nil {
		if err := c.connect(ctx); err != nil {
			return err
		}
	}

	c.nextID++
	req := Request{
		Method:    method,
		ID:        strconv.FormatInt(c.nextID, 10),
		RequestID: logger.RequestID(ctx),
		Params:    raw,
	}
	if deadline, ok := ctx.Deadline(); ok {
		req.DeadlineMs = max(time.Until(deadline).Milliseconds(), 1)
		c.conn.SetDeadline(deadline)
		defer func() {
			if c.conn != nil {
				c.conn.SetDeadline(time.Time{})
			}
		}()
	}

	if err := c.conn.enc.Encode(req); err != nil {
		c.drop()
		return fmt.Errorf("sending %s: %w", method, err)
	}

	var resp struct {
		ID    string          `json:"id"`
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
		Code  string          `json:"code"`
	}
	if err := c.conn.dec.Decode(&resp); err != nil {
		c.drop()
		return fmt.Errorf("reading %s response: %w", method, err)
	}
	if resp.ID != req.ID {
		c.drop()
		return fmt.Errorf("%s: response id %q does not match request %q", method, resp.ID, req.ID)
	}

	if resp.Error != "" {
		return &RemoteError{Method: method, Code: resp.Code, Message: resp.Error}
	}
	if result != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, result); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

// Close closes the connection. Later calls return ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
