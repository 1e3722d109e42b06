package broker

import "sort"

// sessionRegistry is the set of live sessions keyed by unique nickname.
//
// It has no locking of its own: every access happens under the broker
// mutex, which is the single exclusive discipline serializing all
// registry state.
type sessionRegistry struct {
	byNick map[string]*Session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{byNick: make(map[string]*Session)}
}

// add inserts a session under its nickname. The caller guarantees the
// nickname is free.
func (r *sessionRegistry) add(s *Session) {
	r.byNick[s.nick] = s
}

// rename atomically moves a session from its old nickname to nick.
// The caller has already checked availability, so no intermediate state
// is ever observable.
func (r *sessionRegistry) rename(s *Session, nick string) {
	delete(r.byNick, s.nick)
	s.nick = nick
	r.byNick[nick] = s
}

// lookup returns the session holding nick, or nil.
func (r *sessionRegistry) lookup(nick string) *Session {
	return r.byNick[nick]
}

// inUse reports whether nick is currently held.
func (r *sessionRegistry) inUse(nick string) bool {
	_, ok := r.byNick[nick]
	return ok
}

// remove deletes the session's registry entry.
func (r *sessionRegistry) remove(s *Session) {
	delete(r.byNick, s.nick)
}

func (r *sessionRegistry) count() int {
	return len(r.byNick)
}

// all returns every live session in unspecified order.
func (r *sessionRegistry) all() []*Session {
	out := make([]*Session, 0, len(r.byNick))
	for _, s := range r.byNick {
		out = append(out, s)
	}
	return out
}

// nicks returns every held nickname, sorted for stable listings.
func (r *sessionRegistry) nicks() []string {
	out := make([]string, 0, len(r.byNick))
	for nick := range r.byNick {
		out = append(out, nick)
	}
	sort.Strings(out)
	return out
}
