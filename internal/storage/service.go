package storage

import (
	"fmt"
	"strings"

	"github.com/fluxbase-eu/pagepack/internal/config"
)

// Service wraps the configured storage provider
type Service struct {
	Provider Provider
	config   *config.StorageConfig
}

// NewService creates a new storage service based on configuration
func NewService(cfg *config.StorageConfig) (*Service, error) {
	var provider Provider
	var err error

	switch strings.ToLower(cfg.Provider) {
	case "local":
		provider, err = NewLocalStorage(cfg.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local storage: %w", err)
		}

	case "s3":
		endpoint, useSSL := s3Endpoint(cfg.S3Endpoint, cfg.S3UseSSL)
		provider, err = NewS3Storage(
			endpoint,
			cfg.S3AccessKey,
			cfg.S3SecretKey,
			cfg.S3Region,
			cfg.S3Bucket,
			useSSL,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}

	return &Service{
		Provider: provider,
		config:   cfg,
	}, nil
}

// s3Endpoint strips a scheme from the endpoint; an explicit scheme overrides useSSL
func s3Endpoint(raw string, useSSL bool) (string, bool) {
	switch {
	case raw == "":
		return "s3.amazonaws.com", true
	case strings.HasPrefix(raw, "http://"):
		return strings.TrimPrefix(raw, "http://"), false
	case strings.HasPrefix(raw, "https://"):
		return strings.TrimPrefix(raw, "https://"), true
	default:
		return raw, useSSL
	}
}

// GetProviderName returns the name of the active provider
func (s *Service) GetProviderName() string {
	return s.Provider.Name()
}

// IsLocal reports whether files live on the local filesystem
func (s *Service) IsLocal() bool {
	return s.Provider.Name() == "local"
}

// LocalPath returns the filesystem root for the local provider
func (s *Service) LocalPath() string {
	return s.config.LocalPath
}
