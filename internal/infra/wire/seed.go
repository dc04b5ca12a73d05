// Package wire implements the text encodings exchanged between peers: the
// seed (peer record) form and the news record form.
//
// A payload is "<scheme>|<body>". The body is an ordered map string
// {key=value,...} optionally compressed with zstd and, when a session key is
// given, sealed with XChaCha20-Poly1305 under a key derived from it.
package wire

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/seednet/seednet/internal/domain"
)

// SeedVersion is written into every encoded seed.
const SeedVersion = "1"

// TimeLayout is the wire format of timestamps (UTC).
const TimeLayout = "20060102150405"

// Seed keys in wire order.
const (
	keyVersion       = "_v"
	keyHash          = "Hash"
	keyName          = "Name"
	keyIP            = "IP"
	keyPort          = "Port"
	keyClass         = "PeerType"
	keyPeerVersion   = "Version"
	keyFlags         = "Flags"
	keyLastSeen      = "LastSeen"
	keyBirthDate     = "BDate"
	keyUTC           = "UTC"
	keyIndexSent     = "sI"
	keyIndexReceived = "rI"
	keyURLSent       = "sU"
	keyURLReceived   = "rU"
	keyURLCount      = "LCount"
	keyWordCount     = "ICount"
	keyIndexSpeed    = "ISpeed"
	keyQuerySpeed    = "RSpeed"
	keyUptime        = "Uptime"
	keyConnects      = "CCount"
	keyNewsCount     = "NCount"
	keyTags          = "Tags"
	keyNews          = "news"
)

const tagSeparator = "|"

// EncodeSeed serializes p. With a non-empty key the payload is sealed and
// can only be read back with the same key.
func EncodeSeed(p *domain.Peer, key string) (string, error) {
	if p == nil {
		return "", fmt.Errorf("%w: nil peer", domain.ErrMalformedSeed)
	}
	return wrap(SeedMapString(p), key)
}

// SeedMapString renders the plain map string of p. The storage layer keeps
// rows in this form.
func SeedMapString(p *domain.Peer) string {
	fields := []field{
		{keyVersion, SeedVersion},
		{keyHash, string(p.ID)},
		{keyName, p.Name},
		{keyIP, p.IP},
		{keyPort, strconv.Itoa(p.Port)},
		{keyClass, string(p.Class)},
		{keyPeerVersion, strconv.FormatFloat(p.Version, 'f', -1, 64)},
		{keyFlags, fmt.Sprintf("%04x", uint16(p.Flags))},
		{keyLastSeen, formatTime(p.LastSeen)},
		{keyBirthDate, formatTime(p.BirthDate)},
		{keyUTC, p.UTCOffset},
		{keyIndexSent, strconv.FormatInt(p.IndexSent, 10)},
		{keyIndexReceived, strconv.FormatInt(p.IndexReceived, 10)},
		{keyURLSent, strconv.FormatInt(p.URLSent, 10)},
		{keyURLReceived, strconv.FormatInt(p.URLReceived, 10)},
		{keyURLCount, strconv.FormatInt(p.URLCount, 10)},
		{keyWordCount, strconv.FormatInt(p.WordCount, 10)},
		{keyIndexSpeed, strconv.Itoa(p.IndexSpeed)},
		{keyQuerySpeed, strconv.Itoa(p.QuerySpeed)},
		{keyUptime, strconv.FormatInt(p.Uptime, 10)},
		{keyConnects, strconv.FormatFloat(p.ConnectsPerHour, 'f', -1, 64)},
		{keyNewsCount, strconv.Itoa(p.NewsCount)},
		{keyTags, strings.Join(p.Tags, tagSeparator)},
	}
	if p.News != "" {
		fields = append(fields, field{keyNews, p.News})
	}
	return formatMap(fields)
}

// DecodeSeed parses an encoded seed. received is stamped on the record as
// the local time of receipt. Missing or malformed counters decode as zero;
// a malformed LastSeen decodes as the zero time so the lifecycle layer can
// repair it. The hash must be present and well formed.
func DecodeSeed(s string, key string, received time.Time) (*domain.Peer, error) {
	plain, err := unwrap(s, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedSeed, err)
	}
	p, err := ParseSeedMapString(plain)
	if err != nil {
		return nil, err
	}
	p.Received = received
	return p, nil
}

// ParseSeedMapString is the inverse of SeedMapString.
func ParseSeedMapString(plain string) (*domain.Peer, error) {
	m, err := parseMap(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedSeed, err)
	}
	if v := m[keyVersion]; v != "" && v != SeedVersion {
		return nil, fmt.Errorf("%w: unsupported version %q", domain.ErrMalformedSeed, v)
	}
	id, err := domain.ParseID(m[keyHash])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedSeed, err)
	}
	flags, _ := strconv.ParseUint(m[keyFlags], 16, 16)
	p := &domain.Peer{
		ID:              id,
		Name:            m[keyName],
		IP:              m[keyIP],
		Port:            atoi(m[keyPort]),
		Class:           domain.ParsePeerClass(m[keyClass]),
		Version:         atof(m[keyPeerVersion]),
		Flags:           domain.Flags(flags),
		LastSeen:        parseTime(m[keyLastSeen]),
		BirthDate:       parseTime(m[keyBirthDate]),
		UTCOffset:       m[keyUTC],
		IndexSent:       atoi64(m[keyIndexSent]),
		IndexReceived:   atoi64(m[keyIndexReceived]),
		URLSent:         atoi64(m[keyURLSent]),
		URLReceived:     atoi64(m[keyURLReceived]),
		URLCount:        atoi64(m[keyURLCount]),
		WordCount:       atoi64(m[keyWordCount]),
		IndexSpeed:      atoi(m[keyIndexSpeed]),
		QuerySpeed:      atoi(m[keyQuerySpeed]),
		Uptime:          atoi64(m[keyUptime]),
		ConnectsPerHour: atof(m[keyConnects]),
		NewsCount:       atoi(m[keyNewsCount]),
		News:            m[keyNews],
	}
	if tags := m[keyTags]; tags != "" {
		p.Tags = strings.Split(tags, tagSeparator)
	}
	return p, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
