package remediation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"qhome-metering/internal/coverage"
	"qhome-metering/internal/gateway"
	metering "qhome-metering/internal/metering/domain"
)

// ErrClosed indicates the remediator was shut down.
var ErrClosed = errors.New("remediation: remediator closed")

// CoverageSource fetches the coverage gaps of a cycle.
type CoverageSource interface {
	Unassigned(ctx context.Context, cycleID string, onlyWithOwner bool) (*coverage.UnassignedInfo, error)
}

// MeterCreator creates one meter on the backend.
type MeterCreator interface {
	CreateMeter(ctx context.Context, req gateway.CreateMeterRequest) (*metering.Meter, error)
}

// Resolver fetches coverage gaps. A fetch failure is always surfaced as
// an error: the caller must never treat it as confirmed full coverage.
type Resolver struct {
	source CoverageSource
	logger *zap.Logger
}

// NewResolver constructs a resolver.
func NewResolver(source CoverageSource, logger *zap.Logger) (*Resolver, error) {
	if source == nil {
		return nil, errors.New("remediation: nil coverage source")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{source: source, logger: logger}, nil
}

// Gaps returns the coverage gaps of a cycle.
func (r *Resolver) Gaps(ctx context.Context, cycleID string, onlyWithOwner bool) (*coverage.UnassignedInfo, error) {
	info, err := r.source.Unassigned(ctx, cycleID, onlyWithOwner)
	if err != nil {
		r.logger.Warn("coverage fetch failed", zap.String("cycle_id", cycleID), zap.Error(err))
		return nil, err
	}
	return info, nil
}

// UnitFailure records one unit the batch could not remediate.
type UnitFailure struct {
	UnitID string `json:"unitId"`
	Reason string `json:"reason"`
}

// BatchResult summarizes one remediation batch. Created plus the failed
// list always account for every requested unit.
type BatchResult struct {
	Requested int           `json:"requested"`
	Created   int           `json:"created"`
	Failed    []UnitFailure `json:"failed"`
}

// Remediator creates missing meters for gap units, one backend call per
// unit, fanned out concurrently.
type Remediator struct {
	creator     MeterCreator
	concurrency int
	closed      atomic.Bool
	logger      *zap.Logger
}

// RemediatorOption customizes the remediator.
type RemediatorOption func(*Remediator)

// WithConcurrency caps parallel backend calls.
func WithConcurrency(n int) RemediatorOption {
	return func(r *Remediator) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// NewRemediator constructs a remediator.
func NewRemediator(creator MeterCreator, logger *zap.Logger, opts ...RemediatorOption) (*Remediator, error) {
	if creator == nil {
		return nil, errors.New("remediation: nil meter creator")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	remediator := &Remediator{
		creator:     creator,
		concurrency: 8,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(remediator)
	}
	return remediator, nil
}

// Close stops the remediator; further batches are refused.
func (r *Remediator) Close() {
	r.closed.Store(true)
}

// RemediateGroup creates a meter for every listed unit. Failures are
// collected per unit and never abort the remaining units. The returned
// batch accounts for every requested unit exactly once.
func (r *Remediator) RemediateGroup(ctx context.Context, serviceID string, units []metering.UnitWithoutMeter) (*BatchResult, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	if serviceID == "" {
		return nil, errors.New("remediation: empty service id")
	}
	result := &BatchResult{Requested: len(units)}
	if len(units) == 0 {
		return result, nil
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		created int
		failed  []UnitFailure
	)
	sem := make(chan struct{}, r.concurrency)
	for _, unit := range units {
		wg.Add(1)
		go func(unit metering.UnitWithoutMeter) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			_, err := r.creator.CreateMeter(ctx, gateway.CreateMeterRequest{
				UnitID:    unit.UnitID,
				ServiceID: serviceID,
				Source:    metering.SourceRemediation,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, UnitFailure{UnitID: unit.UnitID, Reason: err.Error()})
				return
			}
			created++
		}(unit)
	}
	wg.Wait()

	sort.Slice(failed, func(i, j int) bool { return failed[i].UnitID < failed[j].UnitID })
	result.Created = created
	result.Failed = failed
	r.logger.Info("remediation batch settled",
		zap.String("service_id", serviceID),
		zap.Int("requested", result.Requested),
		zap.Int("created", result.Created),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

// RemediateAndRefresh runs a batch and, once every per-unit call has
// settled and at least one meter was created, re-queries the cycle's
// coverage so the caller sees the post-batch gap set instead of the
// stale one. A refresh failure does not fail the batch; the snapshot is
// simply absent.
func (r *Remediator) RemediateAndRefresh(ctx context.Context, resolver *Resolver, cycleID, serviceID string, onlyWithOwner bool, units []metering.UnitWithoutMeter) (*BatchResult, *coverage.UnassignedInfo, error) {
	if resolver == nil {
		return nil, nil, errors.New("remediation: nil resolver")
	}
	if cycleID == "" {
		return nil, nil, errors.New("remediation: empty cycle id")
	}
	result, err := r.RemediateGroup(ctx, serviceID, units)
	if err != nil {
		return nil, nil, err
	}
	if result.Created == 0 {
		return result, nil, nil
	}
	refreshed, err := resolver.Gaps(ctx, cycleID, onlyWithOwner)
	if err != nil {
		r.logger.Warn("post-batch coverage refresh failed",
			zap.String("cycle_id", cycleID), zap.Error(err))
		return result, nil, nil
	}
	return result, refreshed, nil
}
