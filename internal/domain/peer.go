package domain

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// PeerClass is the reachability class a peer was assigned by the network.
type PeerClass string

const (
	ClassVirgin    PeerClass = "virgin"
	ClassJunior    PeerClass = "junior"
	ClassSenior    PeerClass = "senior"
	ClassPrincipal PeerClass = "principal"
)

// ParsePeerClass parses a class name, defaulting to virgin.
func ParsePeerClass(s string) PeerClass {
	switch PeerClass(strings.ToLower(s)) {
	case ClassJunior:
		return ClassJunior
	case ClassSenior:
		return ClassSenior
	case ClassPrincipal:
		return ClassPrincipal
	}
	return ClassVirgin
}

// Qualified reports whether peers of this class are publicly reachable.
func (c PeerClass) Qualified() bool {
	return c == ClassSenior || c == ClassPrincipal
}

// Flags is the capability bitfield a peer announces.
type Flags uint16

const (
	FlagDirectConnect Flags = 1 << iota
	FlagAcceptRemoteCrawl
	FlagAcceptRemoteIndex
	FlagRootNode
)

// Has reports whether every bit of f is set.
func (fl Flags) Has(f Flags) bool { return fl&f == f }

// With returns fl with f set or cleared.
func (fl Flags) With(f Flags, on bool) Flags {
	if on {
		return fl | f
	}
	return fl &^ f
}

// WildcardTag in a peer's tag list matches any query.
const WildcardTag = "*"

// Peer describes one network participant as seen by the local node.
type Peer struct {
	ID        ID        `json:"id"`
	Name      string    `json:"name"`
	IP        string    `json:"ip"`
	Port      int       `json:"port"`
	Class     PeerClass `json:"class"`
	Version   float64   `json:"version"`
	Flags     Flags     `json:"flags"`
	LastSeen  time.Time `json:"last_seen"`
	BirthDate time.Time `json:"birth_date"`
	UTCOffset string    `json:"utc_offset,omitempty"`

	IndexSent     int64 `json:"index_sent"`
	IndexReceived int64 `json:"index_received"`
	URLSent       int64 `json:"url_sent"`
	URLReceived   int64 `json:"url_received"`
	URLCount      int64 `json:"url_count"`
	WordCount     int64 `json:"word_count"`

	IndexSpeed      int     `json:"index_speed"` // pages per minute
	QuerySpeed      int     `json:"query_speed"` // queries per hour
	Uptime          int64   `json:"uptime"`      // minutes
	ConnectsPerHour float64 `json:"connects_per_hour"`
	NewsCount       int     `json:"news_count"`

	Tags []string `json:"tags,omitempty"`
	// News carries one encoded news record piggybacked on the announcement.
	News string `json:"news,omitempty"`

	// Received is the local time the record was last decoded from the wire.
	// It is never serialized.
	Received time.Time `json:"received,omitzero"`
	// Departed is when the peer last left the connected set. Only the
	// disconnected partition keeps it and it never goes on the wire.
	Departed time.Time `json:"departed,omitzero"`
}

// Clone returns a deep copy.
func (p *Peer) Clone() *Peer {
	if p == nil {
		return nil
	}
	c := *p
	c.Tags = append([]string(nil), p.Tags...)
	return &c
}

// IsProper reports whether the record has a well-formed id and a usable
// address. Only proper records may enter the directory.
func (p *Peer) IsProper() error {
	if p == nil {
		return fmt.Errorf("%w: nil record", ErrNotProper)
	}
	if err := p.ID.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotProper, err)
	}
	ip := net.ParseIP(p.IP)
	if ip == nil || ip.IsUnspecified() {
		return fmt.Errorf("%w: bad address %q", ErrNotProper, p.IP)
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("%w: bad port %d", ErrNotProper, p.Port)
	}
	return nil
}

// Address returns ip:port.
func (p *Peer) Address() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}

// AcceptsRemoteIndex reports the "accept remote index" capability.
func (p *Peer) AcceptsRemoteIndex() bool { return p.Flags.Has(FlagAcceptRemoteIndex) }

// AcceptsRemoteCrawl reports the "accept remote crawl" capability.
func (p *Peer) AcceptsRemoteCrawl() bool { return p.Flags.Has(FlagAcceptRemoteCrawl) }

// DirectConnect reports whether the peer can be contacted directly.
func (p *Peer) DirectConnect() bool { return p.Flags.Has(FlagDirectConnect) }

// AgeDays returns the number of whole days since the peer's birth date, or
// -1 when the birth date is unknown.
func (p *Peer) AgeDays(now time.Time) int {
	if p.BirthDate.IsZero() {
		return -1
	}
	if p.BirthDate.After(now) {
		return 0
	}
	return int(now.Sub(p.BirthDate) / (24 * time.Hour))
}

// IsNewcomer reports whether the peer was born less than a day ago.
func (p *Peer) IsNewcomer(now time.Time) bool {
	age := p.AgeDays(now)
	return age >= 0 && age < 1
}

// MatchesTags reports whether one of the peer's tags hashes to one of the
// query word hashes. The wildcard tag matches every query.
func (p *Peer) MatchesTags(wordHashes []ID) bool {
	if len(p.Tags) == 0 || len(wordHashes) == 0 {
		return false
	}
	want := make(map[ID]struct{}, len(wordHashes))
	for _, h := range wordHashes {
		want[h] = struct{}{}
	}
	for _, tag := range p.Tags {
		if tag == WildcardTag {
			return true
		}
		if _, ok := want[WordHash(tag)]; ok {
			return true
		}
	}
	return false
}

// ─── Sortable Fields ────────────────────────────────────────────────────────

// SortField names a peer attribute the directory can order by.
type SortField string

const (
	SortByWordCount  SortField = "word_count"
	SortByURLCount   SortField = "url_count"
	SortByLastSeen   SortField = "last_seen"
	SortByIndexSpeed SortField = "index_speed"
	SortByQuerySpeed SortField = "query_speed"
	SortByUptime     SortField = "uptime"
	SortByVersion    SortField = "version"
	SortByName       SortField = "name"
)

// ParseSortField validates a field name.
func ParseSortField(s string) (SortField, error) {
	f := SortField(s)
	switch f {
	case SortByWordCount, SortByURLCount, SortByLastSeen, SortByIndexSpeed,
		SortByQuerySpeed, SortByUptime, SortByVersion, SortByName:
		return f, nil
	}
	return "", fmt.Errorf("unknown sort field %q", s)
}

// CompareBy orders a and b by field and breaks ties by id, giving a total
// order. It returns -1, 0 or 1.
func CompareBy(field SortField, a, b *Peer) int {
	c := 0
	switch field {
	case SortByWordCount:
		c = cmpInt64(a.WordCount, b.WordCount)
	case SortByURLCount:
		c = cmpInt64(a.URLCount, b.URLCount)
	case SortByLastSeen:
		c = a.LastSeen.Compare(b.LastSeen)
	case SortByIndexSpeed:
		c = cmpInt64(int64(a.IndexSpeed), int64(b.IndexSpeed))
	case SortByQuerySpeed:
		c = cmpInt64(int64(a.QuerySpeed), int64(b.QuerySpeed))
	case SortByUptime:
		c = cmpInt64(a.Uptime, b.Uptime)
	case SortByVersion:
		switch {
		case a.Version < b.Version:
			c = -1
		case a.Version > b.Version:
			c = 1
		}
	case SortByName:
		c = strings.Compare(a.Name, b.Name)
	}
	if c != 0 {
		return c
	}
	return strings.Compare(string(a.ID), string(b.ID))
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
