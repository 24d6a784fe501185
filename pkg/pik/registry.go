package pik

import (
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/alryaz/hass-pik-comfort/pkg/common"
	"github.com/google/uuid"
)

// Registry manages sessions keyed by phone number. Creating a session for a
// new phone is cheap; the expensive state (token, model graph) accumulates
// lazily as the session is used.
type Registry struct {
	baseURL string
	authTTL int
	token   string
	phone   string

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry pointed at the production API.
func NewRegistry() *Registry {
	return &Registry{
		baseURL:  BaseURL,
		authTTL:  defaultAuthTTL,
		sessions: make(map[string]*Session),
	}
}

// Configured sets up flags for the registry and returns the instance.
// It uses lflag to register command-line flags for configuration.
func Configured() *Registry {
	r := NewRegistry()
	baseURL := lflag.String("pik-base-url", BaseURL, "Base URL of the PIK Comfort API")
	phone := lflag.String("pik-phone", "", "Phone number of the default session")
	token := lflag.String("pik-token", "", "Bearer token restored into the default session (skips the OTP exchange)")
	authTTL := lflag.Int("pik-auth-ttl", defaultAuthTTL, "Token lifetime in seconds requested during OTP verification")

	lflag.Do(func() {
		r.baseURL = *baseURL
		r.phone = *phone
		r.token = *token
		r.authTTL = *authTTL
	})

	return r
}

// DefaultPhone returns the phone number configured for the default session,
// empty when none was configured.
func (r *Registry) DefaultPhone() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phone
}

// Session returns the session for the given phone number, creating it when
// seen for the first time. The configured token, if any, is restored into
// the default phone's session on creation.
func (r *Registry) Session(phone string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[phone]; ok {
		return s
	}

	s := &Session{
		client:   common.HTTPClient(time.Minute, defaultHeaders()),
		baseURL:  r.baseURL,
		phone:    phone,
		deviceID: uuid.NewString(),
		authTTL:  r.authTTL,
	}
	if phone != "" && phone == r.phone && r.token != "" {
		s.token = r.token
	}
	r.sessions[phone] = s
	return s
}

// SetBaseURL points sessions created after the call at a different API host.
// This is primarily used for testing.
func (r *Registry) SetBaseURL(u string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baseURL = u
}

// SetDefaultPhone sets the phone used when callers don't name one. This is
// primarily used for testing.
func (r *Registry) SetDefaultPhone(phone string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phone = phone
}

// SetSession sets the session for a specific phone. This is primarily used
// for testing.
func (r *Registry) SetSession(phone string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[phone] = s
}

// Close discards the session for the given phone: its token and model graph
// are dropped atomically and the phone is forgotten.
func (r *Registry) Close(phone string) {
	r.mu.Lock()
	s, ok := r.sessions[phone]
	delete(r.sessions, phone)
	r.mu.Unlock()

	if ok {
		s.Close()
	}
}
