// Package service is the read contract offered to collaborators: annotated records and alerts
// per source, served through the result cache.
package service

import (
	"Go2NetSentinel/internal/alerter"
	"Go2NetSentinel/internal/cache"
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/source"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Resolver maps a caller-facing source id onto a readable source.
type Resolver interface {
	Resolve(sourceID string) (source.Source, error)
}

// FileResolver resolves ids to files. The empty id means DefaultPath. With DataDir set, other
// ids are paths relative to it and may not escape it; without DataDir only the default path
// is served. Resolved files are identified by their clean absolute path, so ids that name
// the same file share one cache entry.
type FileResolver struct {
	DefaultPath string
	DataDir     string
}

// NewFileResolver creates a resolver from the source section of the config.
func NewFileResolver(cfg config.SourceConfig) *FileResolver {
	return &FileResolver{DefaultPath: cfg.Path, DataDir: cfg.DataDir}
}

func (r *FileResolver) Resolve(sourceID string) (source.Source, error) {
	if sourceID == "" {
		return newFile(r.DefaultPath)
	}
	if r.DataDir == "" {
		if filepath.Clean(sourceID) == filepath.Clean(r.DefaultPath) {
			return newFile(r.DefaultPath)
		}
		return nil, fmt.Errorf("%w: %s (no data directory configured)", model.ErrNotFound, sourceID)
	}
	if filepath.IsAbs(sourceID) {
		return nil, fmt.Errorf("%w: %s is outside the data directory", model.ErrNotFound, sourceID)
	}

	root, err := filepath.Abs(r.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	path := filepath.Join(root, sourceID)
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %s is outside the data directory", model.ErrNotFound, sourceID)
	}
	return source.NewFile(path), nil
}

func newFile(path string) (source.Source, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return source.NewFile(abs), nil
}

// Service answers record and alert queries. It is safe for concurrent use.
type Service struct {
	cache    *cache.Cache
	resolver Resolver
	topN     int
	logger   *zap.Logger
}

// New creates a service. topN is the alert cap used when a caller passes 0; 0 means uncapped.
func New(c *cache.Cache, resolver Resolver, topN int, logger *zap.Logger) *Service {
	return &Service{cache: c, resolver: resolver, topN: topN, logger: logger.With(logging.Component("service"))}
}

// Batch returns the current processed batch of a source. The batch is shared with the cache
// and must not be modified.
func (s *Service) Batch(ctx context.Context, sourceID string) (*model.Batch, error) {
	src, err := s.resolver.Resolve(sourceID)
	if err != nil {
		return nil, err
	}
	return s.cache.GetOrCompute(ctx, src)
}

// ListRecords returns every annotated record of the source. The slice is the caller's to keep.
func (s *Service) ListRecords(ctx context.Context, sourceID string) ([]model.PacketRecord, error) {
	batch, err := s.Batch(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	return model.CloneRecords(batch.Records), nil
}

// ListAlerts returns the alerts of the source, most recent first. topN > 0 caps the list,
// 0 applies the configured default and a negative value returns every alert.
func (s *Service) ListAlerts(ctx context.Context, sourceID string, topN int) ([]model.AlertRecord, error) {
	batch, err := s.Batch(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if !batch.Outlier.Available() {
		s.logger.Debug("alerts are rule-only", logging.Source(batch.SourceID), zap.String("reason", batch.Outlier.Reason))
	}

	switch {
	case topN == 0:
		topN = s.topN
	case topN < 0:
		topN = 0
	}
	return alerter.Aggregate(batch, topN), nil
}

// Summary returns the headline numbers of the source's current batch.
func (s *Service) Summary(ctx context.Context, sourceID string) (model.BatchSummary, error) {
	batch, err := s.Batch(ctx, sourceID)
	if err != nil {
		return model.BatchSummary{}, err
	}
	return batch.Summary(), nil
}
