package collector

import (
	"context"
	"fmt"
	"time"
)

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func orSleep(sleep SleepFunc) SleepFunc {
	if sleep == nil {
		return Sleep
	}
	return sleep
}

// Page is one response of a paged listing. Next is the cursor of the
// following page; More is the platform's own "has next" signal.
type Page[T any, C any] struct {
	Items []T
	Next  C
	More  bool
}

// Paginate walks a cursor-paged listing. It stops on an empty page, on a
// page with More=false, or on a page shorter than pageSize (when pageSize
// is positive). handle sees every non-empty page. It returns the number of
// pages handled.
func Paginate[T any, C any](
	ctx context.Context,
	start C,
	pageSize int,
	fetch func(ctx context.Context, cursor C) (Page[T, C], error),
	handle func(ctx context.Context, items []T) error,
) (int, error) {
	cursor := start
	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			return pages, err
		}
		page, err := fetch(ctx, cursor)
		if err != nil {
			return pages, err
		}
		if len(page.Items) == 0 {
			return pages, nil
		}
		if err := handle(ctx, page.Items); err != nil {
			return pages, err
		}
		pages++
		if !page.More || (pageSize > 0 && len(page.Items) < pageSize) {
			return pages, nil
		}
		cursor = page.Next
	}
}

// PollUntil calls poll up to maxPolls times, sleeping interval before each
// call, until poll reports done. It fails with ErrPollBudgetExceeded when
// the budget runs out.
func PollUntil[T any](
	ctx context.Context,
	sleep SleepFunc,
	interval time.Duration,
	maxPolls int,
	poll func(ctx context.Context) (T, bool, error),
) (T, error) {
	var zero T
	sleep = orSleep(sleep)
	if maxPolls <= 0 {
		maxPolls = 1
	}
	for i := 0; i < maxPolls; i++ {
		if err := sleep(ctx, interval); err != nil {
			return zero, err
		}
		v, done, err := poll(ctx)
		if err != nil {
			return zero, err
		}
		if done {
			return v, nil
		}
	}
	return zero, fmt.Errorf("%w: %d polls every %s", ErrPollBudgetExceeded, maxPolls, interval)
}

// Retry calls fn up to attempts times while retryable accepts its error,
// waiting wait (or the server's Retry-After, if longer) in between. The
// last error is returned as is.
func Retry[T any](
	ctx context.Context,
	sleep SleepFunc,
	attempts int,
	wait time.Duration,
	retryable func(error) bool,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	sleep = orSleep(sleep)
	if attempts <= 0 {
		attempts = 1
	}
	var (
		v   T
		err error
	)
	for i := 0; i < attempts; i++ {
		v, err = fn(ctx)
		if err == nil || !retryable(err) || i == attempts-1 {
			return v, err
		}
		pause := wait
		if ra := RetryAfter(err); ra > pause {
			pause = ra
		}
		if serr := sleep(ctx, pause); serr != nil {
			return v, serr
		}
	}
	return v, err
}

// TooManyRequests is the retryable predicate for 429 responses.
func TooManyRequests(err error) bool {
	return IsStatus(err, 429)
}
