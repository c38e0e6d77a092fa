// Package capability is the host surface handed to extension code: network
// requests, namespaced state, value constructors and image primitives. Nothing
// else of the host is reachable from an extension.
package capability

import (
	"log/slog"
	"time"

	"sourcekit/internal/adapter/httpclient"
	"sourcekit/internal/domain"
	"sourcekit/internal/imaging"
	"sourcekit/internal/infra/logger"
	"sourcekit/internal/security"
)

// HostOptions holds the defaults every session starts from.
type HostOptions struct {
	DefaultRequestsPerSecond float64
	RequestTimeout           time.Duration
	Encoder                  imaging.Encoder
}

// Host creates capability sessions. It is shared by every loaded extension;
// sessions never share state.
type Host struct {
	client   *httpclient.Client
	kv       domain.KVStore
	keychain *security.Keychain
	opts     HostOptions
	logger   *slog.Logger
}

// NewHost creates a Host. kv may be nil, in which case all state is held in
// memory. keychain may be nil, in which case keychain values are stored as-is.
func NewHost(client *httpclient.Client, kv domain.KVStore, keychain *security.Keychain, opts HostOptions, log *slog.Logger) *Host {
	if log == nil {
		log = logger.Discard()
	}
	if client == nil {
		client = httpclient.New(nil, httpclient.Config{}, log)
	}
	return &Host{client: client, kv: kv, keychain: keychain, opts: opts, logger: log}
}

// NewSession binds a fresh capability session to extensionID.
func (h *Host) NewSession(extensionID string) *Session {
	log := logger.ForExtension(h.logger, extensionID)
	memory := newMemoryState()
	s := &Session{
		extensionID: extensionID,
		host:        h,
		logger:      log,
		state: &StateStore{
			extensionID: extensionID,
			namespace:   domain.NamespaceState,
			kv:          h.kv,
			memory:      memory,
			logger:      log,
		},
		keychain: &StateStore{
			extensionID: extensionID,
			namespace:   domain.NamespaceKeychain,
			kv:          h.kv,
			keychain:    h.keychain,
			memory:      memory,
			logger:      log,
		},
	}
	s.requests = s.NewRequestManager(ManagerConfig{})
	return s
}

// Session is the capability surface bound to one extension.
type Session struct {
	extensionID string
	host        *Host
	logger      *slog.Logger
	state       *StateStore
	keychain    *StateStore
	requests    *Scheduler
}

// ExtensionID returns the extension this session belongs to.
func (s *Session) ExtensionID() string { return s.extensionID }

// Logger returns the extension-scoped logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// State returns the "state" namespace.
func (s *Session) State() *StateStore { return s.state }

// Keychain returns the "keychain" namespace.
func (s *Session) Keychain() *StateStore { return s.keychain }

// Requests returns the session's default scheduler.
func (s *Session) Requests() *Scheduler { return s.requests }

// NewRequestManager creates a scheduler. Zero fields take the host defaults.
func (s *Session) NewRequestManager(cfg ManagerConfig) *Scheduler {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = s.host.opts.DefaultRequestsPerSecond
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = s.host.opts.RequestTimeout
	}
	return NewScheduler(s.host.client, cfg, s.logger)
}

// ImageInfo is the result of DecodeImage. Only the header has been read.
type ImageInfo struct {
	Width  int
	Height int
	Image  *imaging.Image
}

// DecodeImage wraps encoded bytes for drawing. Unreadable headers report 0x0.
func (s *Session) DecodeImage(data []byte) ImageInfo {
	img := imaging.NewImage(data)
	return ImageInfo{Width: img.Width, Height: img.Height, Image: img}
}

// CreateCanvas returns an empty canvas.
func (s *Session) CreateCanvas() *imaging.Canvas {
	return imaging.NewCanvas(s.host.opts.Encoder, s.logger)
}
