package remediation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"qhome-metering/internal/coverage"
	"qhome-metering/internal/gateway"
	metering "qhome-metering/internal/metering/domain"
)

type fakeCreator struct {
	mu      sync.Mutex
	calls   []string
	failFor map[string]error
}

func (c *fakeCreator) CreateMeter(_ context.Context, req gateway.CreateMeterRequest) (*metering.Meter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req.UnitID)
	if err, ok := c.failFor[req.UnitID]; ok {
		return nil, err
	}
	return &metering.Meter{ID: "meter-" + req.UnitID, UnitID: req.UnitID, ServiceID: req.ServiceID, Active: true}, nil
}

type fakeCoverageSource struct {
	info *coverage.UnassignedInfo
	err  error
}

func (s fakeCoverageSource) Unassigned(_ context.Context, _ string, _ bool) (*coverage.UnassignedInfo, error) {
	return s.info, s.err
}

func gapUnits(ids ...string) []metering.UnitWithoutMeter {
	out := make([]metering.UnitWithoutMeter, 0, len(ids))
	for _, id := range ids {
		out = append(out, metering.UnitWithoutMeter{UnitID: id, ServiceID: "svc-water"})
	}
	return out
}

func TestRemediateGroup_EveryUnitAccountedFor(t *testing.T) {
	creator := &fakeCreator{failFor: map[string]error{
		"unit-2": errors.New("active meter already exists"),
		"unit-4": errors.New("backend returned 409"),
	}}
	remediator, err := NewRemediator(creator, nil)
	if err != nil {
		t.Fatalf("new remediator: %v", err)
	}

	result, err := remediator.RemediateGroup(context.Background(), "svc-water",
		gapUnits("unit-1", "unit-2", "unit-3", "unit-4", "unit-5"))
	if err != nil {
		t.Fatalf("remediate: %v", err)
	}
	if result.Requested != 5 {
		t.Fatalf("expected 5 requested, got %d", result.Requested)
	}
	if result.Created != 3 {
		t.Fatalf("expected 3 created, got %d", result.Created)
	}
	if len(result.Failed) != 2 {
		t.Fatalf("expected 2 failed, got %+v", result.Failed)
	}
	if result.Created+len(result.Failed) != result.Requested {
		t.Fatalf("created+failed must equal requested: %d+%d != %d", result.Created, len(result.Failed), result.Requested)
	}
}

func TestRemediateGroup_OneFailureDoesNotAbortRest(t *testing.T) {
	creator := &fakeCreator{failFor: map[string]error{"unit-1": errors.New("boom")}}
	remediator, err := NewRemediator(creator, nil, WithConcurrency(1))
	if err != nil {
		t.Fatalf("new remediator: %v", err)
	}

	result, err := remediator.RemediateGroup(context.Background(), "svc-water", gapUnits("unit-1", "unit-2", "unit-3"))
	if err != nil {
		t.Fatalf("remediate: %v", err)
	}
	if len(creator.calls) != 3 {
		t.Fatalf("every unit must be attempted, got %v", creator.calls)
	}
	if result.Created != 2 {
		t.Fatalf("expected 2 created, got %d", result.Created)
	}
}

func TestRemediateGroup_EmptyBatch(t *testing.T) {
	remediator, err := NewRemediator(&fakeCreator{}, nil)
	if err != nil {
		t.Fatalf("new remediator: %v", err)
	}
	result, err := remediator.RemediateGroup(context.Background(), "svc-water", nil)
	if err != nil {
		t.Fatalf("remediate: %v", err)
	}
	if result.Requested != 0 || result.Created != 0 || len(result.Failed) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestRemediateGroup_RefusedAfterClose(t *testing.T) {
	remediator, err := NewRemediator(&fakeCreator{}, nil)
	if err != nil {
		t.Fatalf("new remediator: %v", err)
	}
	remediator.Close()
	if _, err := remediator.RemediateGroup(context.Background(), "svc-water", gapUnits("unit-1")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

// settledSource records how many per-unit creator calls had settled at
// the moment each coverage refresh arrived.
type settledSource struct {
	creator   *fakeCreator
	info      *coverage.UnassignedInfo
	err       error
	mu        sync.Mutex
	fetches   int
	settledAt []int
}

func (s *settledSource) Unassigned(_ context.Context, _ string, _ bool) (*coverage.UnassignedInfo, error) {
	s.creator.mu.Lock()
	settled := len(s.creator.calls)
	s.creator.mu.Unlock()
	s.mu.Lock()
	s.fetches++
	s.settledAt = append(s.settledAt, settled)
	s.mu.Unlock()
	return s.info, s.err
}

func TestRemediateAndRefresh_RefreshesAfterBatchSettles(t *testing.T) {
	creator := &fakeCreator{failFor: map[string]error{"unit-3": errors.New("backend returned 409")}}
	source := &settledSource{
		creator: creator,
		info:    &coverage.UnassignedInfo{CycleID: "cycle-1", ServiceID: "svc-water", TotalUnassigned: 1},
	}
	resolver, err := NewResolver(source, nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	remediator, err := NewRemediator(creator, nil)
	if err != nil {
		t.Fatalf("new remediator: %v", err)
	}

	result, refreshed, err := remediator.RemediateAndRefresh(context.Background(),
		resolver, "cycle-1", "svc-water", true, gapUnits("unit-1", "unit-2", "unit-3", "unit-4"))
	if err != nil {
		t.Fatalf("remediate and refresh: %v", err)
	}
	if result.Created != 3 {
		t.Fatalf("expected 3 created, got %d", result.Created)
	}
	if source.fetches != 1 {
		t.Fatalf("expected exactly one coverage refresh, got %d", source.fetches)
	}
	if source.settledAt[0] != 4 {
		t.Fatalf("refresh must wait for every unit call to settle, saw %d of 4", source.settledAt[0])
	}
	if refreshed == nil || refreshed.TotalUnassigned != 1 {
		t.Fatalf("expected post-batch gap snapshot, got %+v", refreshed)
	}
}

func TestRemediateAndRefresh_NoRefreshWhenNothingCreated(t *testing.T) {
	creator := &fakeCreator{failFor: map[string]error{
		"unit-1": errors.New("boom"),
		"unit-2": errors.New("boom"),
	}}
	source := &settledSource{creator: creator}
	resolver, err := NewResolver(source, nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	remediator, err := NewRemediator(creator, nil)
	if err != nil {
		t.Fatalf("new remediator: %v", err)
	}

	result, refreshed, err := remediator.RemediateAndRefresh(context.Background(),
		resolver, "cycle-1", "svc-water", true, gapUnits("unit-1", "unit-2"))
	if err != nil {
		t.Fatalf("remediate and refresh: %v", err)
	}
	if result.Created != 0 || len(result.Failed) != 2 {
		t.Fatalf("unexpected batch result %+v", result)
	}
	if source.fetches != 0 {
		t.Fatalf("no refresh expected when nothing was created, got %d", source.fetches)
	}
	if refreshed != nil {
		t.Fatalf("no snapshot expected, got %+v", refreshed)
	}
}

func TestRemediateAndRefresh_RefreshFailureKeepsBatchResult(t *testing.T) {
	creator := &fakeCreator{}
	source := &settledSource{creator: creator, err: gateway.ErrUnavailable}
	resolver, err := NewResolver(source, nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	remediator, err := NewRemediator(creator, nil)
	if err != nil {
		t.Fatalf("new remediator: %v", err)
	}

	result, refreshed, err := remediator.RemediateAndRefresh(context.Background(),
		resolver, "cycle-1", "svc-water", true, gapUnits("unit-1"))
	if err != nil {
		t.Fatalf("remediate and refresh: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("expected 1 created, got %d", result.Created)
	}
	if refreshed != nil {
		t.Fatalf("no snapshot expected when refresh fails, got %+v", refreshed)
	}
}

func TestResolver_FailedFetchIsNeverEmptyCoverage(t *testing.T) {
	resolver, err := NewResolver(fakeCoverageSource{err: gateway.ErrUnavailable}, nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	info, err := resolver.Gaps(context.Background(), "cycle-1", false)
	if err == nil {
		t.Fatal("fetch failure must propagate as an error")
	}
	if info != nil {
		t.Fatalf("no info expected on failure, got %+v", info)
	}
}

func TestResolver_ConfirmedEmptyCoverage(t *testing.T) {
	empty := &coverage.UnassignedInfo{CycleID: "cycle-1", ServiceID: "svc-water"}
	resolver, err := NewResolver(fakeCoverageSource{info: empty}, nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	info, err := resolver.Gaps(context.Background(), "cycle-1", false)
	if err != nil {
		t.Fatalf("gaps: %v", err)
	}
	if info.TotalUnassigned != 0 {
		t.Fatalf("expected zero gaps, got %+v", info)
	}
}
