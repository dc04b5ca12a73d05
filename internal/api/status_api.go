package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/seednet/seednet/internal/domain"
	"github.com/seednet/seednet/internal/infra/seeddb"
)

// ─── Diagnostics (/api/*) ───────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.net.Status())
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key + ": " + v)
	}
	return n, nil
}

// --- /api/seeds ---

func (s *Server) handleSeeds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	part := seeddb.Connected
	if v := q.Get("partition"); v != "" {
		var err error
		if part, err = seeddb.ParsePartition(v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	field := domain.SortByLastSeen
	if v := q.Get("sort"); v != "" {
		var err error
		if field, err = domain.ParseSortField(v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	ascending := strings.EqualFold(q.Get("order"), "asc")
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	peers := s.net.Directory().SortedBy(part, field, ascending)
	total := len(peers)
	if limit > 0 && len(peers) > limit {
		peers = peers[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"partition": part.String(),
		"total":     total,
		"seeds":     peers,
	})
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, part, ok := s.net.Directory().Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, domain.ErrPeerNotFound.Error())
		return
	}
	where := "self"
	if part >= 0 {
		where = part.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"partition": where,
		"seed":      p,
	})
}

// --- /api/dht/* ---

// wordParam accepts either a raw 12 character id or a word to hash.
func wordParam(v string) domain.ID {
	if id, err := domain.ParseID(v); err == nil {
		return id
	}
	return domain.WordHash(v)
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	word := r.URL.Query().Get("word")
	if word == "" {
		writeError(w, http.StatusBadRequest, "word is required")
		return
	}
	count, err := queryInt(r, "count", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ranking := s.net.Ranking()
	if count == 0 {
		count = ranking.Config().Redundancy
	}
	hash := wordParam(word)
	writeJSON(w, http.StatusOK, map[string]any{
		"word":        word,
		"hash":        hash,
		"responsible": s.net.Directory().Self() != nil && ranking.IsResponsible(hash),
		"transfer":    ranking.DHTTargets(count, 0, hash, hash, s.net.Config().TransferMaxDistance),
		"search":      ranking.SelectSearchTargets([]domain.ID{hash}, count),
	})
}

func (s *Server) handleDistance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a, b := wordParam(q.Get("a")), wordParam(q.Get("b"))
	writeJSON(w, http.StatusOK, map[string]any{
		"a":        a,
		"b":        b,
		"distance": domain.Distance(a, b),
	})
}

// --- /api/news ---

func (s *Server) handleNewsList(w http.ResponseWriter, r *http.Request) {
	queue := domain.QueueIncoming
	if v := r.URL.Query().Get("queue"); v != "" {
		var err error
		if queue, err = domain.ParseNewsQueue(v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	records, err := s.net.News().List(queue)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queue": queue,
		"news":  records,
	})
}

type publishRequest struct {
	Category   domain.NewsCategory `json:"category"`
	Attributes map[string]string   `json:"attributes"`
}

func (s *Server) handleNewsPublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	self := s.net.Directory().SelfID()
	if self == "" {
		writeError(w, http.StatusServiceUnavailable, domain.ErrNoSelf.Error())
		return
	}
	rec, err := s.net.News().PublishMyNews(self, req.Category, req.Attributes)
	switch {
	case errors.Is(err, domain.ErrDuplicateNews):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// --- /api/feed ---

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	feed := s.net.Actions().Feed()
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  feed.Total(),
		"events": feed.Recent(limit),
	})
}

// --- /api/search ---

type searchRequest struct {
	Words []string `json:"words"`
}

func (s *Server) handleRemoteSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Words) == 0 {
		writeError(w, http.StatusBadRequest, "words are required")
		return
	}
	res, err := s.net.Search(r.Context(), req.Words)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}
