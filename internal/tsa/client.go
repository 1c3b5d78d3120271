package tsa

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/districtscouts/roster/internal/workspace"
	apperrors "github.com/districtscouts/roster/pkg/errors"
	"github.com/districtscouts/roster/pkg/logger"
	"github.com/districtscouts/roster/pkg/metrics"
	"github.com/districtscouts/roster/pkg/validator"
)

const (
	defaultRequestsPerSecond = 4
	defaultTimeout           = 30 * time.Second
)

// Config configures the TSA API client.
type Config struct {
	BaseURL           string
	APIKey            string
	DistrictID        string
	RequestsPerSecond float64
	Timeout           time.Duration
	RetryCount        int
}

// Client reads district data from the TSA membership API.
type Client struct {
	http       *resty.Client
	limiter    *rate.Limiter
	districtID string
	log        *zap.Logger
}

// NewClient validates cfg and builds a throttled client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, apperrors.ErrPrecondition.Withf("tsa base_url is not configured")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, apperrors.ErrPrecondition.Withf("tsa base_url %q is invalid", base).WithInternal(err)
	}
	if strings.TrimSpace(cfg.DistrictID) == "" {
		return nil, apperrors.ErrPrecondition.Withf("tsa district_id is not configured")
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &Client{
		http:       client,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		districtID: strings.TrimSpace(cfg.DistrictID),
		log:        logger.WithModule("tsa"),
	}, nil
}

// Fetch downloads the full district snapshot.
func (c *Client) Fetch(ctx context.Context) (Snapshot, error) {
	var (
		snapshot Snapshot
		err      error
	)
	if snapshot.District, err = c.District(ctx); err != nil {
		return Snapshot{}, err
	}
	if snapshot.Groups, err = list[GroupPayload](ctx, c, "groups"); err != nil {
		return Snapshot{}, err
	}
	if snapshot.Sections, err = list[SectionPayload](ctx, c, "sections"); err != nil {
		return Snapshot{}, err
	}
	if snapshot.TeamTypes, err = list[TeamTypePayload](ctx, c, "team-types"); err != nil {
		return Snapshot{}, err
	}
	if snapshot.Teams, err = list[TeamPayload](ctx, c, "teams"); err != nil {
		return Snapshot{}, err
	}
	if snapshot.People, err = list[PersonPayload](ctx, c, "members"); err != nil {
		return Snapshot{}, err
	}
	if snapshot.Roles, err = list[RolePayload](ctx, c, "roles"); err != nil {
		return Snapshot{}, err
	}
	if snapshot.Accreditations, err = list[AccreditationPayload](ctx, c, "accreditations"); err != nil {
		return Snapshot{}, err
	}

	c.log.Info("tsa snapshot fetched",
		zap.String("district", snapshot.District.ID),
		zap.Int("groups", len(snapshot.Groups)),
		zap.Int("sections", len(snapshot.Sections)),
		zap.Int("teams", len(snapshot.Teams)),
		zap.Int("people", len(snapshot.People)),
		zap.Int("roles", len(snapshot.Roles)),
	)
	return snapshot, nil
}

// District returns the configured district.
func (c *Client) District(ctx context.Context) (DistrictPayload, error) {
	var district DistrictPayload
	if err := c.getJSON(ctx, "/districts/"+url.PathEscape(c.districtID)+"/", &district); err != nil {
		return DistrictPayload{}, err
	}
	if err := validator.ValidateStruct(district); err != nil {
		return DistrictPayload{}, apperrors.ErrMalformedPayload.Withf("tsa district: %v", err).WithInternal(err)
	}
	return district, nil
}

// list walks a paginated resource under the district. The next link may be absolute or
// relative to the base URL.
func list[T any](ctx context.Context, c *Client, resource string) ([]T, error) {
	first := "/districts/" + url.PathEscape(c.districtID) + "/" + resource + "/"

	items, err := workspace.CollectPages(ctx, func(ctx context.Context, token string) (workspace.Page[T], error) {
		target := first
		if token != "" {
			target = token
		}
		var envelope page[T]
		if err := c.getJSON(ctx, target, &envelope); err != nil {
			return workspace.Page[T]{}, err
		}
		return workspace.Page[T]{Items: envelope.Results, NextToken: strings.TrimSpace(envelope.Next)}, nil
	})
	if err != nil {
		return nil, err
	}

	for i := range items {
		if err := validator.ValidateStruct(items[i]); err != nil {
			return nil, apperrors.ErrMalformedPayload.Withf("tsa %s: item %d: %v", resource, i, err).WithInternal(err)
		}
	}
	return items, nil
}

func (c *Client) getJSON(ctx context.Context, target string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.http.R().SetContext(ctx).Get(target)
	if err != nil {
		metrics.ExternalRequests.WithLabelValues("tsa", "error").Inc()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return apperrors.ErrExternal.Withf("tsa GET %s failed", target).WithInternal(err)
	}
	if resp.StatusCode() != http.StatusOK {
		metrics.ExternalRequests.WithLabelValues("tsa", "error").Inc()
		c.log.Debug("tsa request rejected", zap.String("url", target), zap.Int("status", resp.StatusCode()))
		return apperrors.ErrExternal.Withf("tsa GET %s returned %d", target, resp.StatusCode())
	}
	metrics.ExternalRequests.WithLabelValues("tsa", "ok").Inc()

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return apperrors.ErrMalformedPayload.Withf("tsa GET %s: undecodable body", target).WithInternal(err)
	}
	return nil
}
