package exitmodel

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	domsvc "Genesis/internal/domain/service"
	"Genesis/pkg/logger"
)

// Neutral outputs used whenever a model cannot answer.
const (
	FallbackHoldProb = 0.5
	FallbackRR       = 1.5
	MinRR            = 1.0
)

// FileModel serves predictions from artifacts stored as {dir}/{symbol}_{tf}_{purpose}.json.
type FileModel struct {
	dir   string
	cache *ModelCache
	log   *logger.Logger
}

// NewFileModel creates a model service reading from dir.
func NewFileModel(dir string, cache *ModelCache, log *logger.Logger) *FileModel {
	if cache == nil {
		cache = NewModelCache()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &FileModel{dir: dir, cache: cache, log: log}
}

// ErrInvalidArtifactName is returned for symbols or timeframes that are not plain file name parts.
var ErrInvalidArtifactName = errors.New("invalid artifact name")

// ArtifactPath returns the file an artifact is read from.
func (m *FileModel) ArtifactPath(symbol, timeframe string, p Purpose) (string, error) {
	for _, part := range []string{symbol, timeframe} {
		if part == "" || part == "." || strings.ContainsAny(part, `/\`) || strings.Contains(part, "..") {
			return "", fmt.Errorf("%w: %q", ErrInvalidArtifactName, part)
		}
	}
	return filepath.Join(m.dir, fmt.Sprintf("%s_%s_%s.json", symbol, timeframe, p)), nil
}

// PredictExitProb returns the hold probability, FallbackHoldProb when unavailable.
func (m *FileModel) PredictExitProb(ctx context.Context, symbol, timeframe string, f domsvc.Features) float64 {
	p, ok := m.predict(ctx, symbol, timeframe, PurposeExit, f)
	if !ok {
		return FallbackHoldProb
	}
	return math.Min(1, math.Max(0, p))
}

// PredictRR returns the expected reward-to-risk, FallbackRR when unavailable.
func (m *FileModel) PredictRR(ctx context.Context, symbol, timeframe string, f domsvc.Features) float64 {
	rr, ok := m.predict(ctx, symbol, timeframe, PurposeRR, f)
	if !ok {
		return FallbackRR
	}
	return math.Max(MinRR, rr)
}

func (m *FileModel) predict(ctx context.Context, symbol, timeframe string, p Purpose, f domsvc.Features) (out float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("exit model panicked, using fallback",
				logger.String("symbol", symbol), logger.String("purpose", string(p)), logger.Any("panic", r))
			out, ok = 0, false
		}
	}()
	if err := ctx.Err(); err != nil {
		return 0, false
	}

	a, err := m.load(symbol, timeframe, p)
	if err != nil {
		msg := "exit model load failed, using fallback"
		if errors.Is(err, fs.ErrNotExist) {
			msg = "exit model artifact missing, using fallback"
		}
		m.log.Warn(msg, logger.String("symbol", symbol), logger.String("timeframe", timeframe),
			logger.String("purpose", string(p)), logger.Error(err))
		return 0, false
	}
	v, err := a.Predict(f)
	if err != nil {
		m.log.Warn("exit model inference failed, using fallback",
			logger.String("symbol", symbol), logger.String("purpose", string(p)), logger.Error(err))
		return 0, false
	}
	return v, true
}

func (m *FileModel) load(symbol, timeframe string, p Purpose) (*Artifact, error) {
	key := CacheKey(symbol, timeframe)
	if a, ok := m.cache.Get(p, key); ok {
		return a, nil
	}
	path, err := m.ArtifactPath(symbol, timeframe, p)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	a, err := ParseArtifact(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	m.cache.Put(p, key, a)
	m.log.Info("exit model loaded", logger.String("key", key), logger.String("purpose", string(p)))
	return a, nil
}

var _ domsvc.ExitModel = (*FileModel)(nil)
