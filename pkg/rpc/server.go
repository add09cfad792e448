// Package rpc provides a lightweight JSON-over-TCP RPC framework for
// service-to-service calls into the classifier.
//
// Protocol: newline-delimited JSON over a persistent TCP connection. Each
// request names a "Service.Method", carries raw JSON params and an optional
// deadline in milliseconds; each response echoes the request ID.
//
// Example server:
//
//	s := rpc.NewServer()
//	s.Register("Classifier.Classify", func(ctx context.Context, req json.RawMessage) (any, error) {
//	    var in proto.ClassifyRequest
//	    if err := json.Unmarshal(req, &in); err != nil {
//	        return nil, err
//	    }
//	    return &proto.ClassifyResponse{...}, nil
//	})
//	s.Serve(":9091")
//
// Example client:
//
//	c, _ := rpc.Dial("localhost:9091")
//	var resp proto.ClassifyResponse
//	c.Call(ctx, "Classifier.Classify", &proto.ClassifyRequest{Text: "hello"}, &resp)
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/logger"
)

// HandlerFunc processes an RPC request and returns a response or error.
type HandlerFunc func(ctx context.Context, req json.RawMessage) (any, error)

// Request is the wire format for an RPC request.
type Request struct {
	Method     string          `json:"method"`
	ID         string          `json:"id"`
	RequestID  string          `json:"request_id,omitempty"`
	DeadlineMs int64           `json:"deadline_ms,omitempty"`
	Params     json.RawMessage `json:"params"`
}

// Response is the wire format for an RPC response. Code, when set, is a
// stable machine-readable form of Error.
type Response struct {
	ID    string `json:"id"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// CodeUnknownMethod answers requests for unregistered methods.
const CodeUnknownMethod = "unknown_method"

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithErrorCodes sets the function that turns handler errors into response
// codes.
func WithErrorCodes(code func(error) string) ServerOption {
	return func(s *Server) { s.code = code }
}

// Server is a lightweight JSON-over-TCP RPC server.
type Server struct {
	handlers map[string]HandlerFunc
	code     func(error) string
	conns    map[net.Conn]struct{}
	listener net.Listener
	logger   *slog.Logger
	mu       sync.RWMutex
	wg       sync.WaitGroup
	done     chan struct{}
	once     sync.Once
	ready    chan struct{}
}

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		handlers: make(map[string]HandlerFunc),
		code:     func(error) string { return "" },
		conns:    make(map[net.Conn]struct{}),
		logger:   slog.Default().With("component", "rpc-server"),
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a handler for the given RPC method name.
// Method names follow the "Service.Method" convention.
func (s *Server) Register(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
	s.logger.Debug("method registered", "method", method)
}

// Serve starts accepting TCP connections on the given address.
// It blocks until Stop is called.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.ServeListener(ln)
}

// ServeListener accepts connections from ln until Stop is called.
func (s *Server) ServeListener(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)
	s.logger.Info("rpc server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept error", "error", err)
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// track records an open connection so Stop can close it. It reports false
// once the server is stopping.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			return // connection closed or read error
		}

		resp := s.dispatch(req)
		if err := encoder.Encode(resp); err != nil {
			s.logger.Error("write error", "method", req.Method, "error", err)
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	s.mu.RLock()
	handler, exists := s.handlers[req.Method]
	s.mu.RUnlock()

	resp := Response{ID: req.ID}
	if !exists {
		resp.Error = fmt.Sprintf("unknown method: %s", req.Method)
		resp.Code = CodeUnknownMethod
		return resp
	}

	ctx := context.Background()
	if req.RequestID != "" {
		ctx = logger.WithRequestID(ctx, req.RequestID)
	}
	if req.DeadlineMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.DeadlineMs)*time.Millisecond)
		defer cancel()
	}

	data, err := s.invoke(ctx, req.Method, handler, req.Params)
	if err != nil {
		resp.Error = err.Error()
		resp.Code = s.code(err)
		return resp
	}
	resp.Data = data
	return resp
}

// invoke runs handler and reports a panic as an error.
func (s *Server) invoke(ctx context.Context, method string, handler HandlerFunc, params json.RawMessage) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error("rpc handler panicked", "method", method, "panic", r)
			err = fmt.Errorf("%s: internal error", method)
		}
	}()
	return handler(ctx, params)
}

// MethodCount returns the number of registered methods.
func (s *Server) MethodCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// Addr blocks until the server is listening and returns its address.
func (s *Server) Addr() net.Addr {
	<-s.ready
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listener.Addr()
}

// Stop closes the listener and every open connection, then waits for
// in-flight requests to finish.
func (s *Server) Stop() {
	s.once.Do(func() {
		s.mu.Lock()
		close(s.done)
		if s.listener != nil {
			s.listener.Close()
		}
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
		s.logger.Info("rpc server stopped")
	})
}
