// Package bridge implements the interactive backend: a single attached
// client, reached over a websocket, that loads and runs extensions on the
// runtime's behalf.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"sourcekit/internal/domain"
)

// Name identifies the interactive backend in logs and events.
const Name = "interactive"

// RPCHandler handles a request initiated by the attached client.
type RPCHandler func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error)

// Config configures a Bridge.
type Config struct {
	Addr            string
	Path            string // default "/bridge"
	Auth            Authenticator
	Bus             domain.EventBus
	// CallTimeout bounds a single request to the client. Zero means only the
	// caller's context applies.
	CallTimeout     time.Duration
	MaxMessageBytes int64
	// MDNSName, when set, advertises the listener on the local network.
	MDNSName        string
}

// attachment is one connected client.
type attachment struct {
	id        string
	info      *ClientInfo
	hello     Hello
	ws        *websocket.Conn
	sendCh    chan Frame // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once

	nextID    atomic.Uint64
	pendingMu sync.Mutex
	pending   map[uint64]chan Frame
}

func (a *attachment) close() {
	a.closeOnce.Do(func() { close(a.done) })
}

func (a *attachment) resolve(f Frame) {
	a.pendingMu.Lock()
	ch, ok := a.pending[f.ID]
	delete(a.pending, f.ID)
	a.pendingMu.Unlock()
	if ok {
		ch <- f
	}
}

// Bridge is the interactive backend. At most one client is attached; a newer
// connection replaces the older one.
type Bridge struct {
	cfg    Config
	logger *slog.Logger

	handlersMu sync.RWMutex
	handlers   map[string]RPCHandler

	mu      sync.Mutex
	current *attachment
	changed chan struct{} // closed and replaced on attach and detach

	httpSrv   *http.Server
	boundAddr string
	unsubAll  func()
}

var _ domain.Backend = (*Bridge)(nil)

// New creates a bridge. A nil Auth accepts every connection.
func New(cfg Config, logger *slog.Logger) *Bridge {
	if cfg.Path == "" {
		cfg.Path = "/bridge"
	}
	if cfg.Auth == nil {
		cfg.Auth = OpenAuth{}
	}
	return &Bridge{
		cfg:      cfg,
		logger:   logger.With("backend", Name),
		handlers: make(map[string]RPCHandler),
		changed:  make(chan struct{}),
	}
}

// RegisterHandler adds a handler for client-initiated requests.
func (b *Bridge) RegisterHandler(method string, handler RPCHandler) {
	b.handlersMu.Lock()
	b.handlers[method] = handler
	b.handlersMu.Unlock()
}

// Handler returns the HTTP handler serving the bridge endpoint.
func (b *Bridge) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(b.cfg.Path, b.handleUpgrade)
	return mux
}

// Start accepts connections until ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", b.cfg.Addr)
	if err != nil {
		return fmt.Errorf("bridge listen: %w", err)
	}
	b.boundAddr = listener.Addr().String()
	b.httpSrv = &http.Server{Handler: b.Handler()}

	if b.cfg.Bus != nil {
		b.unsubAll = b.cfg.Bus.SubscribeAll(b.forwardEvent)
	}

	if b.cfg.MDNSName != "" {
		if _, portStr, err := net.SplitHostPort(b.boundAddr); err == nil {
			port, _ := strconv.Atoi(portStr)
			go func() {
				if err := advertise(ctx, b.cfg.MDNSName, port, b.cfg.Path, b.logger); err != nil {
					b.logger.Warn("mdns advertise failed", "error", err)
				}
			}()
		}
	}

	b.logger.Info("bridge started", "addr", b.boundAddr, "path", b.cfg.Path)

	go func() {
		<-ctx.Done()
		b.Stop(context.Background())
	}()

	if err := b.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("bridge serve: %w", err)
	}
	return nil
}

// Stop detaches the client and shuts the listener down.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.unsubAll != nil {
		b.unsubAll()
	}

	b.mu.Lock()
	cur := b.current
	b.mu.Unlock()
	if cur != nil {
		b.detach(cur)
		cur.ws.Close(websocket.StatusGoingAway, "server shutting down")
	}

	if b.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return b.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the address the server bound to. Only valid after Start.
func (b *Bridge) BoundAddr() string { return b.boundAddr }

func (b *Bridge) Name() string { return Name }

// Available reports whether a client is attached.
func (b *Bridge) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current != nil
}

// Attachment describes the attached client, if any.
func (b *Bridge) Attachment() (id string, hello Hello, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return "", Hello{}, false
	}
	return b.current.id, b.current.hello, true
}

// WaitAttached blocks until a client is attached, d elapses or ctx ends.
func (b *Bridge) WaitAttached(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return b.Available()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		b.mu.Lock()
		attached := b.current != nil
		changed := b.changed
		b.mu.Unlock()
		if attached {
			return true
		}
		select {
		case <-changed:
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func (b *Bridge) IsLoaded(ctx context.Context, id string) bool {
	raw, err := b.call(ctx, MethodIsLoaded, idPayload{ID: id})
	if err != nil {
		b.logger.Debug("isLoaded failed", "extension", id, "error", err)
		return false
	}
	var loaded bool
	_ = json.Unmarshal(raw, &loaded)
	return loaded
}

// LoadExtension sends source to the client. The client cannot fetch source
// itself, so a nil source always fails.
func (b *Bridge) LoadExtension(ctx context.Context, id string, source []byte) bool {
	if source == nil {
		return false
	}
	raw, err := b.call(ctx, MethodLoadExtension, loadPayload{ID: id, Source: source})
	if err != nil {
		b.logger.Warn("extension load failed", "extension", id, "error", err)
		return false
	}
	var ok bool
	_ = json.Unmarshal(raw, &ok)
	return ok
}

func (b *Bridge) RunExtensionMethod(ctx context.Context, id, method string, args ...any) (any, error) {
	if args == nil {
		args = []any{}
	}
	raw, err := b.call(ctx, MethodRunExtensionMethod, runPayload{ID: id, Method: method, Args: args})
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, domain.NewSubSystemError("bridge", "Bridge.RunExtensionMethod", domain.ErrRPCInvalidPayload, err.Error())
	}
	return result, nil
}

func (b *Bridge) attached() *attachment {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// call sends a request to the attached client and waits for its response.
func (b *Bridge) call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	a := b.attached()
	if a == nil {
		return nil, domain.NewSubSystemError("bridge", "Bridge.call", domain.ErrBridgeUnavailable, method)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewSubSystemError("bridge", "Bridge.call", domain.ErrRPCInvalidPayload, err.Error())
	}
	if b.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
	}

	id := a.nextID.Add(1)
	ch := make(chan Frame, 1)
	a.pendingMu.Lock()
	a.pending[id] = ch
	a.pendingMu.Unlock()
	defer func() {
		a.pendingMu.Lock()
		delete(a.pending, id)
		a.pendingMu.Unlock()
	}()

	req := Frame{Type: FrameTypeRequest, ID: id, Method: method, Payload: raw}
	select {
	case a.sendCh <- req:
	case <-a.done:
		return nil, domain.NewSubSystemError("bridge", "Bridge.call", domain.ErrBridgeUnavailable, method)
	case <-ctx.Done():
		return nil, domain.NewSubSystemError("bridge", "Bridge.call", domain.ErrTimeout, method)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, responseError(method, resp)
		}
		return resp.Payload, nil
	case <-a.done:
		return nil, domain.NewSubSystemError("bridge", "Bridge.call", domain.ErrBridgeUnavailable, method+": client detached")
	case <-ctx.Done():
		return nil, domain.NewSubSystemError("bridge", "Bridge.call", domain.ErrTimeout, method)
	}
}

// responseError maps an error response back onto a domain sentinel.
func responseError(method string, f Frame) error {
	var sentinel error
	switch domain.ErrorCode(f.Code) {
	case domain.CodeMethodMissing:
		sentinel = domain.ErrMethodMissing
	case domain.CodeNotLoaded:
		sentinel = domain.ErrNotLoaded
	case domain.CodeRPCMethodNotFound:
		sentinel = domain.ErrRPCMethodNotFound
	case domain.CodeRPCInvalidPayload:
		sentinel = domain.ErrRPCInvalidPayload
	default:
		sentinel = domain.ErrInvocation
	}
	return domain.NewSubSystemError("bridge", method, sentinel, f.Error)
}

func newAttachmentID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

func (b *Bridge) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	info, err := b.cfg.Auth.Authenticate(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		b.logger.Warn("websocket accept failed", "error", err)
		return
	}
	if b.cfg.MaxMessageBytes > 0 {
		ws.SetReadLimit(b.cfg.MaxMessageBytes)
	}

	a := &attachment{
		id:      newAttachmentID(time.Now()),
		info:    info,
		ws:      ws,
		sendCh:  make(chan Frame, 64),
		done:    make(chan struct{}),
		pending: make(map[uint64]chan Frame),
	}
	b.logger.Info("bridge client connected", "attachment", a.id, "client", info.Name)

	go b.writeLoop(a)
	b.readLoop(r.Context(), a)

	b.detach(a)
	ws.Close(websocket.StatusNormalClosure, "")
	b.logger.Info("bridge client disconnected", "attachment", a.id)
}

func (b *Bridge) readLoop(ctx context.Context, a *attachment) {
	// hello is written once, before attach publishes a; later hellos are
	// ignored so readers never race with a write.
	greeted := false
	for {
		select {
		case <-a.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, a.ws, &frame); err != nil {
			var ce websocket.CloseError
			if !errors.As(err, &ce) && ctx.Err() == nil {
				b.logger.Debug("bridge read failed", "attachment", a.id, "error", err)
			}
			return
		}

		switch frame.Type {
		case FrameTypeHello:
			if greeted {
				b.logger.Debug("bridge ignored repeated hello", "attachment", a.id)
				continue
			}
			greeted = true
			var hello Hello
			_ = json.Unmarshal(frame.Payload, &hello)
			a.hello = hello
			b.attach(ctx, a)
		case FrameTypeResponse:
			a.resolve(frame)
		case FrameTypeRequest:
			go b.dispatchRPC(ctx, a, frame)
		}
	}
}

func (b *Bridge) writeLoop(a *attachment) {
	for {
		select {
		case <-a.done:
			return
		case frame := <-a.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, a.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// attach makes a the current attachment, replacing any older one.
func (b *Bridge) attach(ctx context.Context, a *attachment) {
	b.mu.Lock()
	old := b.current
	if old == a {
		b.mu.Unlock()
		return
	}
	b.current = a
	close(b.changed)
	b.changed = make(chan struct{})
	b.mu.Unlock()

	if old != nil {
		old.close()
		go old.ws.Close(websocket.StatusPolicyViolation, "replaced by newer connection")
		b.logger.Info("bridge client replaced", "old", old.id, "new", a.id)
		b.publish(ctx, domain.EventBackendDetached, old)
	}

	b.logger.Info("bridge client attached", "attachment", a.id, "name", a.hello.Name, "platform", a.hello.Platform)
	b.publish(ctx, domain.EventBackendAttached, a)
}

// detach drops a if it is still current. Pending calls on a fail.
func (b *Bridge) detach(a *attachment) {
	a.close()
	b.mu.Lock()
	if b.current != a {
		b.mu.Unlock()
		return
	}
	b.current = nil
	close(b.changed)
	b.changed = make(chan struct{})
	b.mu.Unlock()
	b.publish(context.Background(), domain.EventBackendDetached, a)
}

func (b *Bridge) publish(ctx context.Context, t domain.EventType, a *attachment) {
	if b.cfg.Bus == nil {
		return
	}
	b.cfg.Bus.Publish(ctx, domain.NewEvent(t, a.id, domain.BackendEventPayload{
		AttachmentID: a.id,
		Name:         a.hello.Name,
		Platform:     a.hello.Platform,
	}))
}

func (b *Bridge) forwardEvent(_ context.Context, event domain.Event) {
	a := b.attached()
	if a == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case a.sendCh <- Frame{Type: FrameTypeEvent, Payload: payload}:
	default:
		b.logger.Warn("bridge: dropped event for slow client", "event", event.Type)
	}
}

func (b *Bridge) dispatchRPC(ctx context.Context, a *attachment, req Frame) {
	b.handlersMu.RLock()
	handler, ok := b.handlers[req.Method]
	b.handlersMu.RUnlock()

	var (
		result json.RawMessage
		err    error
	)
	if !ok {
		err = domain.ErrRPCMethodNotFound
	} else {
		result, err = handler(ctx, a.info, req.Payload)
	}

	resp := Frame{Type: FrameTypeResponse, ID: req.ID, Payload: result}
	if err != nil {
		resp.Error = err.Error()
		resp.Code = string(domain.ErrorCodeOf(err))
	}
	select {
	case a.sendCh <- resp:
	default:
		b.logger.Warn("bridge: dropped RPC response for slow client", "frame_id", req.ID)
	}
}
