package api

import (
	"errors"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/seednet/seednet/internal/domain"
	"github.com/seednet/seednet/internal/infra/wire"
)

// ─── Peer Protocol (/seed/*) ────────────────────────────────────────────────
// These endpoints answer the calls made by infra/transport on other nodes.

// maxHelloSeeds caps how many seeds one hello returns.
const maxHelloSeeds = 100

// --- /seed/hello ---

func (s *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	var req domain.HelloRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	dir := s.net.Directory()
	self := dir.Self()
	if self == nil {
		writeError(w, http.StatusServiceUnavailable, domain.ErrNoSelf.Error())
		return
	}

	p, err := wire.DecodeSeed(req.Seed, req.SessionKey, s.clock.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	observed := remoteIP(r)
	if observed != "" {
		p.IP = observed
	}
	if !p.Class.Qualified() {
		p.Class = domain.ClassJunior
	}

	actions := s.net.Actions()
	d := actions.PeerArrival(p, true)
	if errors.Is(d.Reason, domain.ErrUnqualified) {
		_ = actions.PeerPing(p)
	} else if !d.Accepted {
		s.logger.Debug("hello rejected", zap.String("peer", p.ID.Short()), zap.Error(d.Reason))
	}

	resp := domain.HelloResponse{YourIP: observed, YourClass: p.Class}
	if resp.Seed, err = wire.EncodeSeed(self, req.SessionKey); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	count := min(max(req.Count, 0), maxHelloSeeds)
	for _, seed := range s.net.Ranking().SeedsByAge(true, count+1) {
		if seed.ID == p.ID || len(resp.Seeds) >= count {
			continue
		}
		enc, err := wire.EncodeSeed(seed, req.SessionKey)
		if err != nil {
			continue
		}
		resp.Seeds = append(resp.Seeds, enc)
	}
	writeJSON(w, http.StatusOK, resp)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return ""
}

// --- /seed/query ---

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req domain.QueryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	dir := s.net.Directory()
	self := dir.Self()
	if self == nil {
		writeError(w, http.StatusServiceUnavailable, domain.ErrNoSelf.Error())
		return
	}

	switch req.Object {
	case "rwicount":
		writeJSON(w, http.StatusOK, domain.QueryResponse{Count: self.WordCount})
	case "lurlcount":
		writeJSON(w, http.StatusOK, domain.QueryResponse{Count: self.URLCount})
	case "seed":
		p := self
		if req.Target != "" && req.Target != self.ID {
			p = dir.Get(req.Target)
		}
		if p == nil {
			writeError(w, http.StatusNotFound, domain.ErrPeerNotFound.Error())
			return
		}
		seed, err := wire.EncodeSeed(p, "")
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, domain.QueryResponse{Seed: seed})
	default:
		writeError(w, http.StatusBadRequest, "unknown query object: "+req.Object)
	}
}

// --- /seed/search ---

// handleSearch answers from the local index. This node keeps no page index,
// so the answer is always empty.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req domain.SearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	for _, word := range req.Words {
		if err := word.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, domain.SearchResult{Peer: s.net.Directory().SelfID(), URLs: []string{}})
}

// --- /seed/transfer ---

// handleTransfer accepts the entries of words this node is responsible for.
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	dir := s.net.Directory()
	if dir.Self() == nil {
		writeError(w, http.StatusServiceUnavailable, domain.ErrNoSelf.Error())
		return
	}
	ranking := s.net.Ranking()
	resp := domain.TransferResponse{}
	for word, entries := range req.Entries {
		if !word.Valid() {
			writeError(w, http.StatusBadRequest, domain.ErrInvalidID.Error())
			return
		}
		if ranking.IsResponsible(word) || ranking.VerifyIsOwnWord(word) {
			resp.Accepted += len(entries)
		}
	}
	if resp.Accepted > 0 {
		received := int64(resp.Accepted)
		if err := dir.UpdateSelf(func(p *domain.Peer) { p.IndexReceived += received }); err != nil {
			s.logger.Warn("update self failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- /seed/crawl ---

func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	var order domain.CrawlOrder
	if !decodeJSON(w, r, &order) {
		return
	}
	writeJSON(w, http.StatusOK, domain.CrawlOrderResponse{
		Receipt: domain.ReceiptRejected,
		Reason:  "remote crawling not offered",
	})
}

// --- /seed/news ---

type newsIntakeRequest struct {
	News string `json:"news"`
}

func (s *Server) handleNewsIntake(w http.ResponseWriter, r *http.Request) {
	var req newsIntakeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := wire.DecodeNews(req.News)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.net.News().EnqueueIncoming(rec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": rec.ID()})
}
