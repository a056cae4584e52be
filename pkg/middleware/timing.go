package middleware

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ballast/pkg/errors"
	"github.com/ajitpratap0/ballast/pkg/logger"
)

// Recorder is the surface the timing middleware needs from the performance
// monitor. monitor.Monitor satisfies it.
type Recorder interface {
	StartRequest(id string)
	EndRequest(id string, status string)
	RecordError(kind string, ctx context.Context)
}

// StatusSuccess is the end status recorded for requests that complete
// without error
const StatusSuccess = "success"

// Timing brackets every request with monitor start/end records and stamps
// the request identity into the context so downstream logs correlate.
// Failures from downstream are forwarded to RecordError and returned
// unchanged; rejections from the protective middlewares are recorded as end
// statuses but not as errors.
func Timing(rec Recorder) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			ctx = context.WithValue(ctx, logger.RequestIDKey, req.ID)
			if req.Resource != "" {
				ctx = context.WithValue(ctx, logger.PoolKey, req.Resource)
			}
			rec.StartRequest(req.ID)

			resp, err := next(ctx, req)

			status := StatusSuccess
			if err != nil {
				status = string(errors.TypeOf(err))
				if !errors.IsRejection(err) {
					rec.RecordError(status, ctx)
					logger.WithContext(ctx).Debug("request failed",
						zap.String("kind", status))
				}
			} else if resp != nil && resp.Status != "" {
				status = resp.Status
			}

			rec.EndRequest(req.ID, status)
			return resp, err
		}
	}
}
