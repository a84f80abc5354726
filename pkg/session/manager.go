package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxAge is the session lifetime when none is configured: two years.
const DefaultMaxAge = 2 * 365 * 24 * time.Hour

// ManagerConfig configures session cookies and persistence.
type ManagerConfig struct {
	// CookieName defaults to "syncpage.sid".
	CookieName string

	// MaxAge is the session lifetime. Zero uses DefaultMaxAge. Setting it
	// explicitly makes the cookie rolling: it is re-issued whenever the
	// session is saved or touched.
	MaxAge time.Duration

	// UpdateInterval is the minimum time between touches of an unchanged
	// session. Default: MaxAge/10.
	UpdateInterval time.Duration

	// Secure marks the cookie Secure.
	Secure bool

	Domain string
	Path   string

	Logger *slog.Logger
}

// Manager binds sessions to requests.
type Manager struct {
	store          Store
	codec          *CookieCodec
	cookieName     string
	maxAge         time.Duration
	updateInterval time.Duration
	rolling        bool
	secure         bool
	domain         string
	path           string
	logger         *slog.Logger
}

// NewManager creates a Manager.
func NewManager(store Store, codec *CookieCodec, cfg ManagerConfig) *Manager {
	m := &Manager{
		store:          store,
		codec:          codec,
		cookieName:     cfg.CookieName,
		maxAge:         cfg.MaxAge,
		updateInterval: cfg.UpdateInterval,
		rolling:        cfg.MaxAge > 0,
		secure:         cfg.Secure,
		domain:         cfg.Domain,
		path:           cfg.Path,
		logger:         cfg.Logger,
	}
	if m.cookieName == "" {
		m.cookieName = "syncpage.sid"
	}
	if m.maxAge <= 0 {
		m.maxAge = DefaultMaxAge
	}
	if m.updateInterval <= 0 {
		m.updateInterval = m.maxAge / 10
	}
	if m.path == "" {
		m.path = "/"
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "session")
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() Store { return m.store }

// Ready blocks until the store is connected.
func (m *Manager) Ready(ctx context.Context) error {
	return m.store.Ready(ctx)
}

// state is the per-request bookkeeping behind a Session.
type state struct {
	sess      *Session
	isNew     bool
	original  []byte
	expiresAt time.Time

	mu        sync.Mutex
	committed bool
	destroyed bool
}

// Middleware loads or creates the session and persists it before the
// response headers are written.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := m.load(r)
		ctx := context.WithValue(r.Context(), contextKey{}, st)
		sw := &sessionWriter{ResponseWriter: w, commit: func() error { return m.commit(ctx, w, st) }}

		next.ServeHTTP(sw, r.WithContext(ctx))

		if !sw.wroteHeader && !sw.hijacked {
			if err := sw.commitOnce(); err != nil {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}
	})
}

func (m *Manager) load(r *http.Request) *state {
	if c, err := r.Cookie(m.cookieName); err == nil {
		sid, err := m.codec.Decode(c.Value)
		if err != nil {
			m.logger.Debug("session cookie rejected", "error", err)
		} else if rec, err := m.store.Load(r.Context(), sid); err != nil {
			m.logger.Warn("session load failed", "error", err)
		} else if rec != nil {
			var sess Session
			if err := json.Unmarshal(rec.Data, &sess); err != nil {
				m.logger.Warn("session decode failed", "error", err)
			} else {
				sess.ID = sid
				original, _ := json.Marshal(&sess)
				return &state{sess: &sess, original: original, expiresAt: rec.ExpiresAt}
			}
		}
	}
	return &state{
		sess:  &Session{ID: uuid.NewString(), CreatedAt: time.Now().UTC()},
		isNew: true,
	}
}

func (m *Manager) commit(ctx context.Context, w http.ResponseWriter, st *state) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.committed || st.destroyed {
		return nil
	}
	st.committed = true

	data, err := json.Marshal(st.sess)
	if err != nil {
		m.logger.Error("session encode failed", "session_id", st.sess.ID, "error", err)
		return err
	}
	now := time.Now()
	expiresAt := now.Add(m.maxAge)

	switch {
	case st.isNew || !bytes.Equal(data, st.original):
		if err := m.store.Save(ctx, st.sess.ID, data, expiresAt); err != nil {
			m.logger.Error("session save failed", "session_id", st.sess.ID, "error", err)
			return err
		}
		if st.isNew || m.rolling {
			return m.setCookie(w, st.sess.ID, expiresAt)
		}
	case st.expiresAt.IsZero() || now.Sub(st.expiresAt.Add(-m.maxAge)) >= m.updateInterval:
		if err := m.store.Touch(ctx, st.sess.ID, expiresAt); err != nil {
			m.logger.Warn("session touch failed", "session_id", st.sess.ID, "error", err)
			return nil
		}
		if m.rolling {
			return m.setCookie(w, st.sess.ID, expiresAt)
		}
	}
	return nil
}

func (m *Manager) setCookie(w http.ResponseWriter, sessionID string, expiresAt time.Time) error {
	value, err := m.codec.Encode(sessionID, expiresAt)
	if err != nil {
		m.logger.Error("session cookie encode failed", "error", err)
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    value,
		Path:     m.path,
		Domain:   m.domain,
		Expires:  expiresAt,
		MaxAge:   int(m.maxAge / time.Second),
		Secure:   m.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Destroy deletes the request's session and clears its cookie. It must be
// called before the response headers are written.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request) error {
	st := stateFrom(r.Context())
	if st == nil {
		return errors.New("session: no session in request")
	}
	st.mu.Lock()
	st.destroyed = true
	st.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     m.path,
		Domain:   m.domain,
		MaxAge:   -1,
		Secure:   m.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return m.store.Delete(r.Context(), st.sess.ID)
}

// sessionWriter commits the session right before the header is written.
type sessionWriter struct {
	http.ResponseWriter
	commit      func() error
	once        sync.Once
	err         error
	wroteHeader bool
	hijacked    bool
}

func (w *sessionWriter) commitOnce() error {
	w.once.Do(func() { w.err = w.commit() })
	return w.err
}

func (w *sessionWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		_ = w.commitOnce()
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *sessionWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *sessionWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack commits the session and hands over the connection, for websocket
// upgrades.
func (w *sessionWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("session: underlying ResponseWriter does not support hijacking")
	}
	_ = w.commitOnce()
	w.hijacked = true
	return h.Hijack()
}

func (w *sessionWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
