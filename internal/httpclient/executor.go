package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace/internal/metrics"
	"github.com/Checker-Finance/marketplace/internal/rate"
)

// Backoff returns the retry sleep duration for the given attempt number.
func Backoff(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 100 * time.Millisecond
	case 1:
		return 250 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

// Executor handles rate-limited, retrying HTTP execution with JSON decoding.
type Executor struct {
	logger       *zap.Logger
	rateMgr      *rate.Manager
	http         *http.Client
	retryMax     int
	sourceTag    string
	errorHandler func(status int, body []byte) error
}

// New creates an Executor. errorHandler is called on 4xx responses to produce a
// source-specific error. If nil, a default error is returned.
func New(
	logger *zap.Logger,
	rateMgr *rate.Manager,
	httpClient *http.Client,
	retryMax int,
	sourceTag string,
	errorHandler func(status int, body []byte) error,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Executor{
		logger:       logger,
		rateMgr:      rateMgr,
		http:         httpClient,
		retryMax:     retryMax,
		sourceTag:    sourceTag,
		errorHandler: errorHandler,
	}
}

// DoJSON executes req with rate limiting and retries, then JSON-decodes the
// response into out. rateLimitKey scopes the limiter. Requests with a body
// must be rewindable (http.NewRequest sets GetBody for in-memory readers).
func (e *Executor) DoJSON(ctx context.Context, req *http.Request, rateLimitKey string, out any) error {
	if e.rateMgr != nil {
		if err := e.rateMgr.Wait(ctx, rateLimitKey); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	endpoint := req.URL.Path
	var lastErr error
	for attempt := 0; attempt <= e.retryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(Backoff(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		attemptReq, err := rewind(ctx, req)
		if err != nil {
			return err
		}

		start := time.Now()
		resp, err := e.http.Do(attemptReq)
		if err != nil {
			lastErr = err
			metrics.IncPriceSourceRequest(endpoint, req.Method, "error")
			e.logger.Warn(e.sourceTag+".http_failed",
				zap.String("url", req.URL.String()),
				zap.Error(err),
				zap.Int("attempt", attempt))
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		elapsed := time.Since(start)
		metrics.ObserveDuration(metrics.PriceSourceDuration, start, endpoint, req.Method)
		metrics.IncPriceSourceRequest(endpoint, req.Method, strconv.Itoa(resp.StatusCode))

		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode >= 500 {
			e.logger.Warn(e.sourceTag+".server_error",
				zap.Int("status", resp.StatusCode),
				zap.String("url", req.URL.String()),
				zap.Duration("latency", elapsed))
			lastErr = fmt.Errorf("%s server error: %d", e.sourceTag, resp.StatusCode)
			continue
		}

		if resp.StatusCode >= 400 {
			if e.errorHandler != nil {
				return e.errorHandler(resp.StatusCode, body)
			}
			return fmt.Errorf("%s returned %d", e.sourceTag, resp.StatusCode)
		}

		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				e.logger.Warn(e.sourceTag+".decode_failed",
					zap.Error(err),
					zap.String("url", req.URL.String()),
					zap.String("body", string(body)))
				return fmt.Errorf("decode failed: %w", err)
			}
		}

		e.logger.Debug(e.sourceTag+".http_success",
			zap.String("url", req.URL.String()),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", elapsed))

		return nil
	}

	return fmt.Errorf("%s request failed after %d attempts: %w", e.sourceTag, e.retryMax+1, lastErr)
}

// rewind returns a copy of req bound to ctx with a fresh body.
func rewind(ctx context.Context, req *http.Request) (*http.Request, error) {
	out := req.Clone(ctx)
	if req.Body == nil || req.Body == http.NoBody {
		return out, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body for %s is not rewindable", req.URL)
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind body: %w", err)
	}
	out.Body = body
	return out, nil
}
