package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	assignments "qhome-metering/internal/assignments/domain"
	"qhome-metering/internal/coverage"
	cycles "qhome-metering/internal/cycles/domain"
	masterdata "qhome-metering/internal/masterdata/domain"
	meterapp "qhome-metering/internal/metering/application"
	metering "qhome-metering/internal/metering/domain"
)

// ErrUnavailable indicates the backend could not be reached at all. It
// is distinct from an API rejection so callers never confuse a transport
// failure with a confirmed empty result.
var ErrUnavailable = errors.New("gateway: backend unavailable")

// APIError carries a rejection returned by the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: backend returned %d: %s", e.Status, e.Message)
}

// IsConflict reports whether the error is an APIError with status 409.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 409
}

// Client is a typed REST client for the metering backend.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient constructs a gateway client. Retries stay disabled: callers
// decide what a repeat attempt means for non-idempotent operations.
func NewClient(baseURL, token string, logger *zap.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("gateway: empty base url")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &Client{http: client, logger: logger}, nil
}

func (c *Client) request(ctx context.Context, out any) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if out != nil {
		req.SetResult(out)
	}
	return req
}

func (c *Client) check(resp *resty.Response, err error) error {
	if err != nil {
		c.logger.Warn("backend request failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		message := strings.TrimSpace(string(resp.Body()))
		if message == "" {
			message = resp.Status()
		}
		return &APIError{Status: resp.StatusCode(), Message: message}
	}
	return nil
}

// ListCycles returns reading cycles, optionally filtered by status.
func (c *Client) ListCycles(ctx context.Context, status string) ([]cycles.ReadingCycle, error) {
	var out []cycles.ReadingCycle
	req := c.request(ctx, &out)
	if status != "" {
		req.SetQueryParam("status", status)
	}
	resp, err := req.Get("/api/reading-cycles")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCycle returns one cycle by id.
func (c *Client) GetCycle(ctx context.Context, id string) (*cycles.ReadingCycle, error) {
	var out cycles.ReadingCycle
	resp, err := c.request(ctx, &out).Get("/api/reading-cycles/" + id)
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChangeCycleStatus advances a cycle to the given status.
func (c *Client) ChangeCycleStatus(ctx context.Context, id, status string) (*cycles.ReadingCycle, error) {
	var out cycles.ReadingCycle
	resp, err := c.request(ctx, &out).
		SetQueryParam("status", status).
		Patch("/api/reading-cycles/" + id + "/status")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Unassigned returns the coverage gaps of one cycle.
func (c *Client) Unassigned(ctx context.Context, cycleID string, onlyWithOwner bool) (*coverage.UnassignedInfo, error) {
	var out coverage.UnassignedInfo
	resp, err := c.request(ctx, &out).
		SetQueryParam("onlyWithOwner", strconv.FormatBool(onlyWithOwner)).
		Get("/api/reading-cycles/" + cycleID + "/unassigned")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMissingMeters returns units lacking an active meter for a service,
// optionally restricted to one building.
func (c *Client) ListMissingMeters(ctx context.Context, serviceID, buildingID string) ([]metering.UnitWithoutMeter, error) {
	var out []metering.UnitWithoutMeter
	req := c.request(ctx, &out).SetQueryParam("serviceId", serviceID)
	if buildingID != "" {
		req.SetQueryParam("buildingId", buildingID)
	}
	resp, err := req.Get("/api/meters/missing")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateMeterRequest carries a single meter creation.
type CreateMeterRequest struct {
	UnitID       string `json:"unitId"`
	ServiceID    string `json:"serviceId"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Source       string `json:"source,omitempty"`
}

// CreateMeter creates one meter.
func (c *Client) CreateMeter(ctx context.Context, req CreateMeterRequest) (*metering.Meter, error) {
	var out metering.Meter
	resp, err := c.request(ctx, &out).
		SetBody(req).
		Post("/api/meters")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// BulkCreateMeters asks the backend to create meters for every unit
// currently missing one for the service, optionally within one building.
func (c *Client) BulkCreateMeters(ctx context.Context, serviceID, buildingID string) (*meterapp.BulkResult, error) {
	var out meterapp.BulkResult
	req := c.request(ctx, &out).SetQueryParam("serviceId", serviceID)
	if buildingID != "" {
		req.SetQueryParam("buildingId", buildingID)
	}
	resp, err := req.Post("/api/meters/missing")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateAssignmentRequest carries an assignment creation.
type CreateAssignmentRequest struct {
	CycleID    string   `json:"cycleId"`
	AssignedTo string   `json:"assignedTo"`
	BuildingID string   `json:"buildingId,omitempty"`
	FloorFrom  *int     `json:"floorFrom,omitempty"`
	FloorTo    *int     `json:"floorTo,omitempty"`
	UnitIDs    []string `json:"unitIds,omitempty"`
	Note       string   `json:"note,omitempty"`
}

// CreateAssignment creates an assignment.
func (c *Client) CreateAssignment(ctx context.Context, req CreateAssignmentRequest) (*assignments.MeterReadingAssignment, error) {
	var out assignments.MeterReadingAssignment
	resp, err := c.request(ctx, &out).
		SetBody(req).
		Post("/api/meter-reading-assignments")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAssignments returns assignments of a cycle.
func (c *Client) ListAssignments(ctx context.Context, cycleID string) ([]assignments.MeterReadingAssignment, error) {
	var out []assignments.MeterReadingAssignment
	resp, err := c.request(ctx, &out).
		SetQueryParam("cycleId", cycleID).
		Get("/api/meter-reading-assignments")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteAssignment removes an assignment. Backends refuse with 409 when
// readings already exist.
func (c *Client) DeleteAssignment(ctx context.Context, id string) error {
	resp, err := c.request(ctx, nil).Delete("/api/meter-reading-assignments/" + id)
	return c.check(resp, err)
}

// AssignmentProgress returns the reading coverage of an assignment.
func (c *Client) AssignmentProgress(ctx context.Context, id string) (*assignments.Progress, error) {
	var out assignments.Progress
	resp, err := c.request(ctx, &out).Get("/api/meter-reading-assignments/" + id + "/progress")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListServices returns the billable services.
func (c *Client) ListServices(ctx context.Context, activeOnly bool) ([]masterdata.BillableService, error) {
	path := "/api/services"
	if activeOnly {
		path = "/api/services/active"
	}
	var out []masterdata.BillableService
	resp, err := c.request(ctx, &out).Get(path)
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}
