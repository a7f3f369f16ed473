package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"murmur/internal/domain"
	"murmur/internal/observability"
	"murmur/internal/resilience"
)

var (
	ErrUnknownModel = errors.New("unknown model")
	ErrCorrupt      = errors.New("model file failed verification")
	ErrClosed       = errors.New("model manager is closed")
)

// Config controls where models live and how they are fetched.
type Config struct {
	Dir      string
	BaseURL  string
	Attempts int
	// Checksums maps canonical model names to hex SHA-256 digests.
	Checksums map[string]string
	Client    *http.Client
	Backoff   time.Duration
}

// Manager caches whisper.cpp models on disk. Downloads are de-duplicated per
// model name and a failed acquisition is remembered until Reset or until the
// file on disk verifies.
type Manager struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	flight singleflight.Group

	// closeMu orders inflight.Add against Close's Wait.
	closeMu  sync.Mutex
	inflight sync.WaitGroup

	mu       sync.Mutex
	status   map[string]domain.ModelStatus
	failures map[string]error
}

func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	normalized := make(map[string]string, len(cfg.Checksums))
	for name, sum := range cfg.Checksums {
		if preset, ok := Lookup(name); ok && sum != "" {
			normalized[preset.Name] = strings.ToLower(strings.TrimSpace(sum))
		}
	}
	cfg.Checksums = normalized

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		client:   client,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		status:   make(map[string]domain.ModelStatus),
		failures: make(map[string]error),
	}
}

// Ensure returns a Ready descriptor for name, downloading it if necessary.
// Concurrent callers for the same model share one download. Cancelling ctx
// stops waiting but leaves a shared download running.
func (m *Manager) Ensure(ctx context.Context, name string) (domain.ModelDescriptor, error) {
	preset, ok := Lookup(name)
	if !ok {
		return domain.ModelDescriptor{Name: name, Status: domain.ModelMissing},
			domain.ModelAcquisitionError("resolve model", fmt.Errorf("%w: %q", ErrUnknownModel, name))
	}
	desc := m.describe(preset)

	if err := m.failure(preset.Name); err != nil {
		if m.verify(desc) != nil {
			desc.Status = m.currentStatus(preset.Name)
			return desc, err
		}
		m.clearFailure(preset.Name)
		m.setStatus(preset.Name, domain.ModelReady)
	}

	if m.currentStatus(preset.Name) == domain.ModelReady && fileExists(desc.Path) {
		desc.Status = domain.ModelReady
		return desc, nil
	}

	ch := m.flight.DoChan(preset.Name, func() (any, error) {
		if !m.track() {
			return desc, domain.ModelAcquisitionError("download model", ErrClosed)
		}
		defer m.inflight.Done()
		return m.acquire(preset)
	})

	select {
	case <-ctx.Done():
		desc.Status = m.currentStatus(preset.Name)
		return desc, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			desc.Status = m.currentStatus(preset.Name)
			return desc, res.Err
		}
		return res.Val.(domain.ModelDescriptor), nil
	}
}

// Reset clears a remembered acquisition failure so the next Ensure retries.
func (m *Manager) Reset(name string) error {
	preset, ok := Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	m.logger.Info().Str("model", preset.Name).Msg("model failure cleared")
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, preset.Name)
	if m.status[preset.Name] != domain.ModelReady {
		delete(m.status, preset.Name)
	}
	return nil
}

// List reports every catalog entry with its cache status. Files found on disk
// that have not been verified yet are reported as ready.
func (m *Manager) List() []domain.ModelDescriptor {
	out := make([]domain.ModelDescriptor, 0, len(presets))
	for _, preset := range Presets() {
		desc := m.describe(preset)
		desc.Status = m.currentStatus(preset.Name)
		if desc.Status == domain.ModelMissing && fileExists(desc.Path) {
			desc.Status = domain.ModelReady
		}
		out = append(out, desc)
	}
	return out
}

// Close aborts in-flight downloads and waits for them to unwind. Ensure fails
// with ErrClosed afterwards.
func (m *Manager) Close() {
	m.closeMu.Lock()
	m.cancel()
	m.closeMu.Unlock()
	m.inflight.Wait()
}

// track registers a download unless Close has started.
func (m *Manager) track() bool {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()
	if m.ctx.Err() != nil {
		return false
	}
	m.inflight.Add(1)
	return true
}

func (m *Manager) acquire(preset Preset) (domain.ModelDescriptor, error) {
	desc := m.describe(preset)
	logger := m.logger.With().Str("model", preset.Name).Logger()

	if fileExists(desc.Path) {
		if err := m.verify(desc); err == nil {
			m.setStatus(preset.Name, domain.ModelReady)
			desc.Status = domain.ModelReady
			return desc, nil
		}
		logger.Warn().Str("path", desc.Path).Msg("cached model failed verification; re-downloading")
		m.setStatus(preset.Name, domain.ModelCorrupt)
		_ = os.Remove(desc.Path)
	}

	if err := os.MkdirAll(m.cfg.Dir, 0o755); err != nil {
		err = domain.ModelAcquisitionError("create models dir", err)
		m.setFailure(preset.Name, domain.ModelMissing, err)
		return desc, err
	}

	m.setStatus(preset.Name, domain.ModelDownloading)
	logger.Info().Str("url", desc.URL).Msg("downloading model")

	policy := resilience.RetryPolicy{
		MaxAttempts:    m.cfg.Attempts,
		InitialBackoff: m.cfg.Backoff,
		MaxBackoff:     4 * m.cfg.Backoff,
		Multiplier:     2,
		Jitter:         0.2,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Msg("model download failed; retrying")
		},
	}
	_, attempts, err := resilience.Do(m.ctx, policy, func(ctx context.Context, _ int) (struct{}, error) {
		err := m.fetch(ctx, desc)
		switch {
		case err == nil:
			observability.RecordModelDownload("success")
		case errors.Is(err, ErrCorrupt):
			m.setStatus(preset.Name, domain.ModelCorrupt)
			observability.RecordModelDownload("corrupt")
		default:
			observability.RecordModelDownload("error")
		}
		return struct{}{}, err
	})
	if err != nil {
		if m.ctx.Err() != nil {
			m.setStatus(preset.Name, domain.ModelMissing)
			return desc, domain.ModelAcquisitionError("download "+preset.Name, err)
		}
		status := domain.ModelMissing
		if errors.Is(err, ErrCorrupt) {
			status = domain.ModelCorrupt
		}
		err = domain.ModelAcquisitionError("download "+preset.Name, fmt.Errorf("after %d attempts: %w", attempts, err))
		m.setFailure(preset.Name, status, err)
		logger.Error().Err(err).Msg("model acquisition failed")
		return desc, err
	}

	m.setStatus(preset.Name, domain.ModelReady)
	desc.Status = domain.ModelReady
	logger.Info().Str("path", desc.Path).Int("attempts", attempts).Msg("model ready")
	return desc, nil
}

// fetch downloads into a temp file and renames it into place only after the
// transfer length and checksum match.
func (m *Manager) fetch(ctx context.Context, desc domain.ModelDescriptor) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.URL, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("request model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model repository returned %s", resp.Status)
	}

	tmp := desc.Path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	hash := sha256.New()
	written, copyErr := io.Copy(io.MultiWriter(f, hash), resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("transfer model: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write model: %w", closeErr)
	}

	if written == 0 || (resp.ContentLength >= 0 && written != resp.ContentLength) {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: received %d of %d bytes", ErrCorrupt, written, resp.ContentLength)
	}
	if desc.SHA256 != "" {
		if got := hex.EncodeToString(hash.Sum(nil)); got != desc.SHA256 {
			_ = os.Remove(tmp)
			return fmt.Errorf("%w: sha256 %s, expected %s", ErrCorrupt, got, desc.SHA256)
		}
	}

	if err := os.Rename(tmp, desc.Path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("install model: %w", err)
	}
	return nil
}

func (m *Manager) verify(desc domain.ModelDescriptor) error {
	info, err := os.Stat(desc.Path)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return ErrCorrupt
	}
	if desc.SHA256 == "" {
		return nil
	}

	f, err := os.Open(desc.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return err
	}
	if hex.EncodeToString(hash.Sum(nil)) != desc.SHA256 {
		return ErrCorrupt
	}
	return nil
}

func (m *Manager) describe(preset Preset) domain.ModelDescriptor {
	return domain.ModelDescriptor{
		Name:   preset.Name,
		Path:   filepath.Join(m.cfg.Dir, preset.Filename),
		URL:    m.cfg.BaseURL + "/" + preset.Filename,
		Size:   preset.ApproxSize,
		SHA256: m.cfg.Checksums[preset.Name],
		Status: domain.ModelMissing,
	}
}

func (m *Manager) currentStatus(name string) domain.ModelStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status, ok := m.status[name]; ok {
		return status
	}
	return domain.ModelMissing
}

func (m *Manager) setStatus(name string, status domain.ModelStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[name] = status
}

func (m *Manager) failure(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[name]
}

func (m *Manager) setFailure(name string, status domain.ModelStatus, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[name] = err
	m.status[name] = status
}

func (m *Manager) clearFailure(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, name)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
