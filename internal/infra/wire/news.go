package wire

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/seednet/seednet/internal/domain"
)

const (
	newsCategory    = "cat"
	newsOriginator  = "ori"
	newsCreated     = "cre"
	newsReceived    = "rec"
	newsDistributed = "dis"
	newsAttrPrefix  = "a."
)

// NewsMapString renders the plain map string of a news record. Attributes
// follow the fixed header keys in sorted order.
func NewsMapString(r *domain.NewsRecord) string {
	fields := []field{
		{newsCategory, string(r.Category)},
		{newsOriginator, string(r.Originator)},
		{newsCreated, formatTime(r.Created)},
		{newsReceived, formatTime(r.Received)},
		{newsDistributed, strconv.Itoa(r.Distributed)},
	}
	keys := make([]string, 0, len(r.Attributes))
	for k := range r.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, field{newsAttrPrefix + k, r.Attributes[k]})
	}
	return formatMap(fields)
}

// EncodeNews serializes a news record for attachment to a seed.
func EncodeNews(r *domain.NewsRecord) (string, error) {
	if r == nil {
		return "", fmt.Errorf("%w: nil record", domain.ErrMalformedNews)
	}
	return wrap(NewsMapString(r), "")
}

// DecodeNews parses an encoded news record. Structural validation is left
// to the news pool.
func DecodeNews(s string) (*domain.NewsRecord, error) {
	plain, err := unwrap(s, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedNews, err)
	}
	return ParseNewsMapString(plain)
}

// ParseNewsMapString is the inverse of NewsMapString.
func ParseNewsMapString(plain string) (*domain.NewsRecord, error) {
	m, err := parseMap(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedNews, err)
	}
	r := &domain.NewsRecord{
		Category:    domain.NewsCategory(m[newsCategory]),
		Originator:  domain.ID(m[newsOriginator]),
		Created:     parseTime(m[newsCreated]),
		Received:    parseTime(m[newsReceived]),
		Distributed: atoi(m[newsDistributed]),
		Attributes:  make(map[string]string),
	}
	for k, v := range m {
		if name, ok := strings.CutPrefix(k, newsAttrPrefix); ok {
			r.Attributes[name] = v
		}
	}
	return r, nil
}
