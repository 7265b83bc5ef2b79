package db

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Candidate is one way of answering a discovery question: a query and the
// normalizer for the row shape that query returns.
type Candidate[T any] struct {
	Name  string
	Query string
	Args  []interface{}
	Parse func([]Record) []T
}

// FirstNonEmpty tries candidates in order. A failing query or an empty
// normalized result moves on to the next candidate; the first non-empty
// result wins. When every candidate is exhausted the result is empty, not
// an error, and the last failure is reported through log. The only error
// returned is ctx's own, once it is cancelled or past its deadline.
func FirstNonEmpty[T any](ctx context.Context, q Querier, timeout time.Duration, log *logrus.Entry, candidates []Candidate[T]) ([]T, error) {
	var lastErr error
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recs, err := QueryRecords(ctx, q, timeout, c.Query, c.Args...)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.WithField("candidate", c.Name).Debugf("query failed: %v", err)
			lastErr = err
			continue
		}
		if out := c.Parse(recs); len(out) > 0 {
			log.WithField("candidate", c.Name).Debugf("%d rows", len(out))
			return out, nil
		}
	}
	if lastErr != nil {
		log.Warnf("all %d candidate queries exhausted: %v", len(candidates), lastErr)
	}
	return nil, nil
}

// Interrupted returns ctx's error prefixed with what was running, or nil
// while ctx is live.
func Interrupted(ctx context.Context, what string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}
