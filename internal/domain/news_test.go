package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewsRecord_ID(t *testing.T) {
	created := time.Date(2024, 3, 1, 8, 30, 15, 999, time.UTC)
	r := NewNewsRecord("AAAAAAAAAAAA", CategoryBlogAdd, created, nil)
	assert.Equal(t, "20240301083015AAAAAAAAAAAA", r.ID())
	assert.Len(t, r.ID(), NewsIDLength)
	assert.NotNil(t, r.Attributes)
}

func TestNewsRecord_Validate(t *testing.T) {
	created := time.Date(2024, 3, 1, 8, 30, 15, 0, time.UTC)
	tests := []struct {
		name   string
		record *NewsRecord
		err    error
	}{
		{"valid", NewNewsRecord("AAAAAAAAAAAA", CategoryWikiUpdate, created, nil), nil},
		{"nil", nil, ErrMalformedNews},
		{"bad originator", NewNewsRecord("AAA", CategoryWikiUpdate, created, nil), ErrMalformedNews},
		{"unknown category", NewNewsRecord("AAAAAAAAAAAA", "gossipy", created, nil), ErrUnknownCategory},
		{"long category", NewNewsRecord("AAAAAAAAAAAA", "waytoolongcat", created, nil), ErrMalformedNews},
		{"zero time", &NewsRecord{Originator: "AAAAAAAAAAAA", Category: CategoryBlogAdd}, ErrMalformedNews},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestNewsRecord_Clone(t *testing.T) {
	r := NewNewsRecord("AAAAAAAAAAAA", CategoryBlogAdd, time.Now(), map[string]string{"title": "a"})
	c := r.Clone()
	c.Attributes["title"] = "b"
	assert.Equal(t, "a", r.Attr("title", ""))
	assert.Equal(t, "none", r.Attr("missing", "none"))
}

func TestParseCrawlReceipt(t *testing.T) {
	r, err := ParseCrawlReceipt("fill")
	assert.NoError(t, err)
	assert.True(t, r.Stored())
	r, err = ParseCrawlReceipt("robot")
	assert.NoError(t, err)
	assert.False(t, r.Stored())
	_, err = ParseCrawlReceipt("maybe")
	assert.Error(t, err)
}
