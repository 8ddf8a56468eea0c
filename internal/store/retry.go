package store

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/golang/glog"
)

// ConnectTimeout bounds how long Retry keeps trying a dependency at startup.
var ConnectTimeout = 30 * time.Second

// Retry runs connect with exponential backoff until it succeeds, ctx is done,
// or ConnectTimeout passes. It returns the last error.
func Retry(ctx context.Context, name string, connect func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = ConnectTimeout

	attempt := 0
	return backoff.Retry(func() error {
		attempt += 1
		err := connect()
		if err != nil {
			glog.Infof("[store]%s connect attempt %d = %s\n", name, attempt, err)
		}
		return err
	}, backoff.WithContext(policy, ctx))
}
