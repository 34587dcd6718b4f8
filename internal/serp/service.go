package serp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/proxyfetch/internal/hash/sha256"
	"github.com/JakeFAU/proxyfetch/internal/metrics"
	"github.com/JakeFAU/proxyfetch/internal/proxy"
)

// ErrEmptyQuery rejects blank search strings.
var ErrEmptyQuery = errors.New("search query must not be empty")

// NoResultsWarning is attached to responses whose page matched no results.
const NoResultsWarning = "no organic results found; the search engine markup may have changed"

// Fetcher is the slice of proxy.Router the service needs.
type Fetcher interface {
	Fetch(ctx context.Context, req proxy.FetchRequest) (proxy.FetchResult, error)
}

// Archive stores raw result pages.
type Archive interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher digests archived pages.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// SearchRequest is one SERP query on behalf of an API token.
type SearchRequest struct {
	Engine    string
	Query     string
	Region    string
	UserAgent string
	Token     proxy.APIToken
}

// Response is the parsed SERP.
type Response struct {
	SearchEngine   string   `json:"search_engine"`
	SearchQuery    string   `json:"search_query"`
	RegionUsed     string   `json:"region_used"`
	OrganicResults []Result `json:"organic_results"`
	Warnings       []string `json:"warnings,omitempty"`
	SnapshotURI    string   `json:"snapshot_uri,omitempty"`
	SnapshotSHA256 string   `json:"snapshot_sha256,omitempty"`
}

// Service fetches result pages through the router and parses them.
type Service struct {
	fetcher Fetcher
	archive Archive
	ids     proxy.IDGenerator
	clock   proxy.Clock
	hasher  Hasher
	logger  *zap.Logger
}

// NewService builds a Service. archive and ids may be nil to disable snapshots.
func NewService(fetcher Fetcher, archive Archive, ids proxy.IDGenerator, clock proxy.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		fetcher: fetcher,
		archive: archive,
		ids:     ids,
		clock:   clock,
		hasher:  sha256.New(),
		logger:  logger,
	}
}

// Search validates the engine, fetches the result page and parses it.
func (s *Service) Search(ctx context.Context, req SearchRequest) (Response, error) {
	if req.Engine == "" {
		req.Engine = DefaultEngine
	}
	engine, err := Lookup(req.Engine)
	if err != nil {
		return Response{}, err
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return Response{}, ErrEmptyQuery
	}
	logger := s.logger.With(zap.String("engine", engine.Name), zap.String("region", req.Region))

	fetched, err := s.fetcher.Fetch(ctx, proxy.FetchRequest{
		URL:       engine.BuildURL(query),
		Region:    req.Region,
		UserAgent: req.UserAgent,
		Token:     req.Token,
	})
	if err != nil {
		metrics.ObserveSERP(engine.Name, "fetch_error")
		return Response{}, err
	}

	results, err := engine.Extract(fetched.Result)
	if err != nil {
		metrics.ObserveSERP(engine.Name, "parse_error")
		logger.Error("failed to parse result page", zap.String("query", query), zap.Error(err))
		return Response{}, err
	}

	resp := Response{
		SearchEngine:   engine.Name,
		SearchQuery:    query,
		RegionUsed:     fetched.RegionUsed,
		OrganicResults: results,
	}
	if len(results) == 0 {
		metrics.ObserveSERP(engine.Name, "empty")
		logger.Warn("result page contained no organic results", zap.String("query", query))
		resp.Warnings = append(resp.Warnings, NoResultsWarning)
	} else {
		metrics.ObserveSERP(engine.Name, "ok")
		logger.Info("parsed result page", zap.String("query", query), zap.Int("results", len(results)))
	}
	resp.SnapshotURI = s.snapshot(ctx, engine.Name, fetched.Result, logger)
	if resp.SnapshotURI != "" {
		if sum, err := s.hasher.Hash([]byte(fetched.Result)); err == nil {
			resp.SnapshotSHA256 = sum
		}
	}
	return resp, nil
}

// snapshot archives the raw page. Failures are logged and otherwise ignored.
func (s *Service) snapshot(ctx context.Context, engine, html string, logger *zap.Logger) string {
	if s.archive == nil || s.ids == nil {
		return ""
	}
	id, err := s.ids.NewID()
	if err != nil {
		logger.Warn("failed to generate snapshot id", zap.Error(err))
		return ""
	}
	now := time.Now().UTC()
	if s.clock != nil {
		now = s.clock.Now()
	}
	path := fmt.Sprintf("serp/%s/%s/%s.html", engine, now.Format("2006/01/02"), id)
	uri, err := s.archive.PutObject(ctx, path, "text/html; charset=utf-8", strings.NewReader(html))
	if err != nil {
		logger.Warn("failed to archive result page", zap.String("path", path), zap.Error(err))
		return ""
	}
	return uri
}
