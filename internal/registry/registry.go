// Package registry tracks which named participant owns which live connection.
// Sessions live only in memory and are rebuilt from announcements after a
// restart.
package registry

import (
	"strings"
	"sync"
	"time"

	"github.com/weiawesome/wes-chat-hub/internal/domain"
	pkglog "github.com/weiawesome/wes-chat-hub/pkg/log"
)

// Outcome tells the caller what an Announce did.
type Outcome int

const (
	// Rejected means the announcement was invalid and nothing changed.
	Rejected Outcome = iota
	// Joined means a new session was created.
	Joined
	// Changed means the connection or avatar of an existing session changed.
	Changed
	// Refreshed means only the last-seen time moved.
	Refreshed
)

func (o Outcome) String() string {
	switch o {
	case Joined:
		return "joined"
	case Changed:
		return "changed"
	case Refreshed:
		return "refreshed"
	default:
		return "rejected"
	}
}

// Session is a participant's live connection record.
type Session struct {
	Username     string
	AvatarRef    string
	LastSeenAt   time.Time
	ConnectionID string
}

// AnnounceResult describes an Announce call. Previous is set when the
// session moved off another connection, and Renamed when this connection
// gave up a different username.
type AnnounceResult struct {
	Outcome  Outcome
	Session  Session
	Previous string
	Renamed  string
}

// Registry maps usernames to sessions. At most one session exists per
// username and per connection.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session // username -> session
	byConn   map[string]string   // connection id -> username
	now      func() time.Time
}

func New() *Registry {
	return NewWithClock(time.Now)
}

func NewWithClock(now func() time.Time) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byConn:   make(map[string]string),
		now:      now,
	}
}

// Announce creates or updates the session for username on connID. A repeat
// announcement from a new connection takes the name over. A connection that
// announces a different name than the one it holds gives the old one up.
func (r *Registry) Announce(username, avatarRef, connID string) AnnounceResult {
	username = strings.TrimSpace(username)
	if username == "" || connID == "" {
		l := pkglog.L()
		l.Warn().Str(pkglog.FieldConnID, connID).Msg("rejected announcement without username")
		return AnnounceResult{Outcome: Rejected}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	res := AnnounceResult{}

	if held, ok := r.byConn[connID]; ok && held != username {
		delete(r.sessions, held)
		delete(r.byConn, connID)
		res.Renamed = held
	}

	s, ok := r.sessions[username]
	if !ok {
		s = &Session{Username: username, AvatarRef: avatarRef, LastSeenAt: now, ConnectionID: connID}
		r.sessions[username] = s
		r.byConn[connID] = username
		res.Outcome = Joined
		res.Session = *s
		return res
	}

	res.Outcome = Refreshed
	if s.ConnectionID != connID {
		if r.byConn[s.ConnectionID] == username {
			delete(r.byConn, s.ConnectionID)
		}
		res.Previous = s.ConnectionID
		s.ConnectionID = connID
		r.byConn[connID] = username
		res.Outcome = Changed
	}
	if s.AvatarRef != avatarRef {
		s.AvatarRef = avatarRef
		res.Outcome = Changed
	}
	s.LastSeenAt = now
	res.Session = *s
	return res
}

// Touch refreshes the last-seen time of username.
func (r *Registry) Touch(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[username]
	if !ok {
		return false
	}
	s.LastSeenAt = r.now().UTC()
	return true
}

// DisconnectByConnection removes the session currently owned by connID.
// Calling it again for the same connection does nothing.
func (r *Registry) DisconnectByConnection(connID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	username, ok := r.byConn[connID]
	if !ok {
		return Session{}, false
	}
	delete(r.byConn, connID)

	s, ok := r.sessions[username]
	if !ok || s.ConnectionID != connID {
		return Session{}, false
	}
	delete(r.sessions, username)
	return *s, true
}

// Lookup returns the connection that owns username.
func (r *Registry) Lookup(username string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[username]
	if !ok {
		return "", false
	}
	return s.ConnectionID, true
}

// UsernameOf returns the username connID currently owns.
func (r *Registry) UsernameOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	username, ok := r.byConn[connID]
	return username, ok
}

// Owns reports whether connID currently owns username.
func (r *Registry) Owns(username, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[username]
	return ok && s.ConnectionID == connID
}

// Get returns a copy of the session for username.
func (r *Registry) Get(username string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[username]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Snapshot copies every session into its public form.
func (r *Registry) Snapshot() domain.UsersSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(domain.UsersSnapshot, len(r.sessions))
	for name, s := range r.sessions {
		out[name] = domain.UserPresence{
			AvatarRef:  s.AvatarRef,
			LastSeenAt: s.LastSeenAt.Format(domain.TimeFormat),
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
