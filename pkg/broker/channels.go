package broker

import "sort"

// Channel is a named multicast group. Members are non-owning references;
// the session registry owns all sessions.
type Channel struct {
	name    string
	members map[*Session]struct{}
}

// Name returns the channel name, including the leading '#'.
func (c *Channel) Name() string { return c.name }

func (c *Channel) size() int { return len(c.members) }

func (c *Channel) has(s *Session) bool {
	_, ok := c.members[s]
	return ok
}

// sessions returns the member set as a slice, in unspecified order.
func (c *Channel) sessions() []*Session {
	out := make([]*Session, 0, len(c.members))
	for s := range c.members {
		out = append(out, s)
	}
	return out
}

// memberNicks returns the members' nicknames, sorted for stable listings.
func (c *Channel) memberNicks() []string {
	out := make([]string, 0, len(c.members))
	for s := range c.members {
		out = append(out, s.nick)
	}
	sort.Strings(out)
	return out
}

// channelRegistry is the set of live channels keyed by name. Like the
// session registry it relies on the broker mutex for exclusion.
//
// Membership is kept mirrored: s ∈ channel.members iff channel.name ∈
// s.channels. addMember and removeMember maintain both sides.
type channelRegistry struct {
	byName map[string]*Channel
}

func newChannelRegistry() *channelRegistry {
	return &channelRegistry{byName: make(map[string]*Channel)}
}

// find returns the named channel, or nil.
func (r *channelRegistry) find(name string) *Channel {
	return r.byName[name]
}

// findOrCreate returns the named channel, lazily creating it on first join.
func (r *channelRegistry) findOrCreate(name string) *Channel {
	if c, ok := r.byName[name]; ok {
		return c
	}
	c := &Channel{name: name, members: make(map[*Session]struct{})}
	r.byName[name] = c
	return c
}

// addMember joins s to c, keeping the session's channel set in sync.
// Returns false on double-join with no side effects.
func (r *channelRegistry) addMember(c *Channel, s *Session) bool {
	if c.has(s) {
		return false
	}
	c.members[s] = struct{}{}
	s.channels[c.name] = struct{}{}
	return true
}

// removeMember detaches s from c. The channel itself is reclaimed later by
// the liveness sweep, not here.
func (r *channelRegistry) removeMember(c *Channel, s *Session) {
	delete(c.members, s)
	delete(s.channels, c.name)
}

func (r *channelRegistry) count() int {
	return len(r.byName)
}

// names returns every channel name, sorted for stable listings.
func (r *channelRegistry) names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// sweepEmpty destroys every channel with no members and returns the names
// of the destroyed channels. Called from the liveness tick, so an empty
// channel may briefly outlive its last member.
func (r *channelRegistry) sweepEmpty() []string {
	var swept []string
	for name, c := range r.byName {
		if c.size() == 0 {
			delete(r.byName, name)
			swept = append(swept, name)
		}
	}
	return swept
}
