package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Values are stored under "<key>@<generation>". Invalidate bumps the
// generation, so a value computed from data read before the bump lands under
// a generation nobody reads any more instead of shadowing the fresh one.

func generationKey(key string) string { return key + ":gen" }

func versioned(key string, gen int64) string { return fmt.Sprintf("%s@%d", key, gen) }

// Invalidate retires every value cached for key.
func Invalidate(ctx context.Context, c Cache, key string) error {
	_, err := c.Incr(ctx, generationKey(key))
	return err
}

// ReadThrough returns the cached value of key, calling load on a miss and
// caching the result for ttl. Cache failures are logged and fall back to
// load.
func ReadThrough[T any](ctx context.Context, c Cache, log logrus.FieldLogger, key string, ttl time.Duration, load func(context.Context) (*T, error)) (T, error) {
	var gen int64
	_, genErr := c.Get(ctx, generationKey(key), &gen)
	if genErr != nil {
		log.WithError(genErr).WithField("key", key).Warn("cache generation read failed")
	}

	var value T
	if genErr == nil {
		hit, err := c.Get(ctx, versioned(key, gen), &value)
		if err != nil {
			log.WithError(err).WithField("key", key).Warn("cache read failed")
		}
		if hit {
			return value, nil
		}
	}

	loaded, err := load(ctx)
	if err != nil {
		return value, err
	}
	if genErr == nil {
		if err := c.Set(ctx, versioned(key, gen), loaded, ttl); err != nil {
			log.WithError(err).WithField("key", key).Warn("cache write failed")
		}
	}
	return *loaded, nil
}
