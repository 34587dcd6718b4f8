package api

import (
	"net/http"
	"strings"

	"github.com/JakeFAU/proxyfetch/internal/proxy"
	"github.com/JakeFAU/proxyfetch/internal/serp"
)

type fetchRequest struct {
	URL string `json:"url"`
}

type regionsResponse struct {
	Regions []string `json:"regions"`
}

type statusResponse struct {
	Statuses []proxy.RegionStatus `json:"statuses"`
}

func (s *Server) regions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, regionsResponse{Regions: s.deps.Proxy.Registry().Regions()})
}

func (s *Server) regionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Proxy.Status(r.Context(), r.URL.Query().Get("region"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{Statuses: []proxy.RegionStatus{status}})
}

func (s *Server) fetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	token, _ := tokenFrom(r.Context())
	result, err := s.deps.Proxy.Fetch(r.Context(), proxy.FetchRequest{
		URL:       strings.TrimSpace(req.URL),
		Region:    r.URL.Query().Get("region"),
		UserAgent: s.userAgent(r),
		Token:     token,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token, _ := tokenFrom(r.Context())
	resp, err := s.deps.Search.Search(r.Context(), serp.SearchRequest{
		Engine:    q.Get("engine"),
		Query:     q.Get("q"),
		Region:    q.Get("region"),
		UserAgent: s.userAgent(r),
		Token:     token,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) userAgent(r *http.Request) string {
	if ua := r.UserAgent(); ua != "" {
		return ua
	}
	return s.opts.DefaultUserAgent
}
