package discovery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatcher/internal/metrics"
	"github.com/JakeFAU/sitewatcher/internal/workerclient"
)

// Operation labels.
const (
	OpDiscover = "discover"
	OpProfile  = "profile"
)

// Service wraps a Caller with logging and metrics.
type Service struct {
	caller         Caller
	defaultProfile string
	logger         *zap.Logger
	now            func() time.Time
}

// NewService constructs a Service. defaultProfile is used by profile
// calls that name no profile.
func NewService(caller Caller, defaultProfile string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultProfile == "" {
		defaultProfile = workerclient.DefaultProfile
	}
	return &Service{
		caller:         caller,
		defaultProfile: defaultProfile,
		logger:         logger,
		now:            time.Now,
	}
}

// DefaultProfile returns the profile used when none is named.
func (s *Service) DefaultProfile() string { return s.defaultProfile }

// Discover runs the discover operation for rawURL.
func (s *Service) Discover(ctx context.Context, rawURL string) (workerclient.Response, error) {
	start := s.now()
	resp, err := s.caller.Discover(ctx, rawURL)
	s.observe(OpDiscover, rawURL, start, resp, err)
	return resp, err
}

// FetchNamedProfile runs the named profile, or the default one when name
// is empty.
func (s *Service) FetchNamedProfile(ctx context.Context, name string, monthsBack *int) (workerclient.Response, error) {
	if name == "" {
		name = s.defaultProfile
	}
	start := s.now()
	resp, err := s.caller.FetchNamedProfile(ctx, name, monthsBack)
	s.observe(OpProfile, profilePrefix+name, start, resp, err)
	return resp, err
}

// Execute runs a batch task.
func (s *Service) Execute(ctx context.Context, task Task) (workerclient.Response, error) {
	switch task.Kind {
	case TaskDiscover:
		return s.Discover(ctx, task.URL)
	case TaskProfile:
		return s.FetchNamedProfile(ctx, task.Profile, task.MonthsBack)
	default:
		return workerclient.Response{}, fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

func (s *Service) observe(op, target string, start time.Time, resp workerclient.Response, err error) {
	elapsed := s.now().Sub(start)
	if err != nil {
		kind := string(workerclient.KindOf(err))
		if kind == "" {
			kind = "unknown"
		}
		metrics.ObserveWorkerCall(op, kind, elapsed)
		s.logger.Warn("worker call failed",
			zap.String("operation", op),
			zap.String("target", target),
			zap.String("kind", kind),
			zap.Int("status_code", workerclient.StatusCode(err)),
			zap.Bool("retryable", workerclient.Retryable(err)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return
	}
	metrics.ObserveWorkerCall(op, metrics.OutcomeSuccess, elapsed)
	metrics.ObserveWorkerLinks(resp.Source, len(resp.Links)+len(resp.Feeds))
	s.logger.Debug("worker call succeeded",
		zap.String("operation", op),
		zap.String("target", target),
		zap.String("source", resp.Source),
		zap.Int("count", resp.Count),
		zap.Duration("elapsed", elapsed),
	)
}
