package profile

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bisheshkhanal/ragebaiter/internal/stance"
)

const keyPrefix = "viewer:"

// Hash fields of a viewer:<id> entry.
const (
	fieldSocial     = "social"
	fieldEconomic   = "economic"
	fieldPopulist   = "populist"
	fieldEcho       = "echo"
	fieldMild       = "mild"
	fieldCooldownMs = "cooldown_ms"
)

// Redis reads viewer profiles stored as hashes under viewer:<id>.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// DialRedis connects to redisURL (e.g. "redis://localhost:6379/0") and
// verifies the connection.
func DialRedis(ctx context.Context, redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) Profile(ctx context.Context, viewerID string) (stance.ViewerProfile, error) {
	fields, err := r.rdb.HGetAll(ctx, keyPrefix+viewerID).Result()
	if err != nil {
		return stance.ViewerProfile{}, fmt.Errorf("failed to read profile %s: %w", viewerID, err)
	}
	if len(fields) == 0 {
		return stance.ViewerProfile{}, fmt.Errorf("%w: %s", ErrViewerNotFound, viewerID)
	}

	p, err := parseFields(fields)
	if err != nil {
		return stance.ViewerProfile{}, fmt.Errorf("invalid profile %s: %w", viewerID, err)
	}
	p.ViewerID = viewerID
	return p, nil
}

// Save writes p under its viewer id, replacing any previous overrides.
func (r *Redis) Save(ctx context.Context, p stance.ViewerProfile) error {
	key := keyPrefix + p.ViewerID
	values := map[string]interface{}{
		fieldSocial:   formatFloat(p.Vector.Social),
		fieldEconomic: formatFloat(p.Vector.Economic),
		fieldPopulist: formatFloat(p.Vector.Populist),
	}
	if p.Thresholds != nil {
		values[fieldEcho] = formatFloat(p.Thresholds.EchoChamberMaxDistance)
		values[fieldMild] = formatFloat(p.Thresholds.MildBiasMaxDistance)
	}
	if p.Cooldown != nil {
		values[fieldCooldownMs] = strconv.FormatInt(p.Cooldown.Milliseconds(), 10)
	}

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, values)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save profile %s: %w", p.ViewerID, err)
	}
	return nil
}

func parseFields(fields map[string]string) (stance.ViewerProfile, error) {
	var p stance.ViewerProfile
	var err error

	if p.Vector.Social, err = floatField(fields, fieldSocial); err != nil {
		return p, err
	}
	if p.Vector.Economic, err = floatField(fields, fieldEconomic); err != nil {
		return p, err
	}
	if p.Vector.Populist, err = floatField(fields, fieldPopulist); err != nil {
		return p, err
	}

	_, hasEcho := fields[fieldEcho]
	_, hasMild := fields[fieldMild]
	if hasEcho || hasMild {
		t := stance.DefaultThresholds()
		if hasEcho {
			if t.EchoChamberMaxDistance, err = floatField(fields, fieldEcho); err != nil {
				return p, err
			}
		}
		if hasMild {
			if t.MildBiasMaxDistance, err = floatField(fields, fieldMild); err != nil {
				return p, err
			}
		}
		if t.EchoChamberMaxDistance >= t.MildBiasMaxDistance {
			return p, fmt.Errorf("echo threshold %.3f must be below mild threshold %.3f", t.EchoChamberMaxDistance, t.MildBiasMaxDistance)
		}
		p.Thresholds = &t
	}

	if v, ok := fields[fieldCooldownMs]; ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms < 0 {
			return p, fmt.Errorf("%s: invalid value %q", fieldCooldownMs, v)
		}
		d := time.Duration(ms) * time.Millisecond
		p.Cooldown = &d
	}

	return p, nil
}

// floatField reads a numeric field; a missing field reads as 0.
func floatField(fields map[string]string, name string) (float64, error) {
	v, ok := fields[name]
	if !ok {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s: invalid value %q", name, v)
	}
	return f, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
