package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/ratelimit"
)

// defaultPixelCost is charged when the output size cannot be known before
// the input is decoded.
const defaultPixelCost = 1 << 20

type RateLimiter interface {
	Allow(ctx context.Context, subject string, cost int64) (ratelimit.Decision, error)
}

// pixelCost estimates the output pixels an operation will produce.
func pixelCost(op domain.Operation) int64 {
	w, h := int64(op.Width), int64(op.Height)
	switch {
	case w > 0 && h > 0:
		return w * h
	case w > 0:
		return w * w
	case h > 0:
		return h * h
	}
	return inputCost(op.Input)
}

func inputCost(spec domain.InputSpec) int64 {
	switch {
	case spec.Raw != nil && spec.Raw.Width > 0 && spec.Raw.Height > 0:
		return int64(spec.Raw.Width) * int64(spec.Raw.Height)
	case spec.Create != nil && spec.Create.Width > 0 && spec.Create.Height > 0:
		return int64(spec.Create.Width) * int64(spec.Create.Height)
	}
	return defaultPixelCost
}

// admit applies backpressure and the caller's pixel budget. It writes the
// rejection itself and returns false when the request must not proceed.
// Limiter failures let the request through.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, cost int64, local bool) bool {
	route := routeLabel(r.URL.Path)
	if local && s.maxBacklog > 0 && s.processor != nil {
		if queued := s.processor.Counters().Snapshot().Queued; queued >= int64(s.maxBacklog) {
			w.Header().Set("Retry-After", "1")
			s.metrics.rejected.WithLabelValues(route, "backlog").Inc()
			writeError(w, http.StatusTooManyRequests, "server is busy")
			return false
		}
	}
	if s.rateLimiter == nil {
		return true
	}

	subject := s.userID(r)
	decision, err := s.rateLimiter.Allow(r.Context(), subject, cost)
	if errors.Is(err, ratelimit.ErrCostExceedsCapacity) {
		s.metrics.rejected.WithLabelValues(route, "cost").Inc()
		writeError(w, http.StatusRequestEntityTooLarge, "request exceeds the pixel budget")
		return false
	}
	if err != nil {
		s.logger.WithError(err).WithField("subject", subject).Warn("rate limiter check failed")
		return true
	}

	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	if decision.Allowed {
		return true
	}

	retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	s.metrics.rejected.WithLabelValues(route, "budget").Inc()
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}
