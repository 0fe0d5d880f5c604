package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"avl-gateway/internal/pipeline"
)

const (
	onlineSet       = "devices:online"
	replyTTL        = 24 * time.Hour
	dailyCounterTTL = 48 * time.Hour
)

func deviceKey(id string) string   { return "dev:" + id }
func replyKey(id string) string    { return "dev:" + id + ":last_reply" }
func trackingKey(id string) string { return "dev:" + id + ":last_tracking" }
func dailyKey(id, cmd string, day time.Time) string {
	return "cmd:" + id + ":" + cmd + ":" + day.Format("20060102")
}

// Redis mirrors device presence, the last command reply and the last
// tracking point, and keeps the daily command counters.
type Redis struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedis(ctx context.Context, addr string, db int) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisWithClient(rdb), nil
}

func NewRedisWithClient(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb, now: time.Now}
}

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) MarkOnline(ctx context.Context, id, remote string) error {
	now := r.now().UTC()
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, onlineSet, id)
		p.HSet(ctx, deviceKey(id),
			"remote", remote,
			"connected_at", now.Unix(),
			"last_seen", now.Unix(),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark online %s: %w", id, err)
	}
	return nil
}

func (r *Redis) Touch(ctx context.Context, id string) error {
	if err := r.rdb.HSet(ctx, deviceKey(id), "last_seen", r.now().UTC().Unix()).Err(); err != nil {
		return fmt.Errorf("touch %s: %w", id, err)
	}
	return nil
}

func (r *Redis) MarkOffline(ctx context.Context, id string) error {
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, onlineSet, id)
		p.HSet(ctx, deviceKey(id), "disconnected_at", r.now().UTC().Unix())
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark offline %s: %w", id, err)
	}
	return nil
}

func (r *Redis) Online(ctx context.Context) ([]string, error) {
	return r.rdb.SMembers(ctx, onlineSet).Result()
}

func (r *Redis) SaveLastReply(ctx context.Context, id, text string) error {
	if err := r.rdb.Set(ctx, replyKey(id), text, replyTTL).Err(); err != nil {
		return fmt.Errorf("save reply %s: %w", id, err)
	}
	return nil
}

// LastReply returns the mirrored reply text; ok is false when none is stored.
func (r *Redis) LastReply(ctx context.Context, id string) (string, bool, error) {
	s, err := r.rdb.Get(ctx, replyKey(id)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s, true, nil
}

// IncDailyCmdCounter counts one more cmd for id today. allowed is false once
// the count passes limit; limit <= 0 means unlimited.
func (r *Redis) IncDailyCmdCounter(ctx context.Context, id, cmd string, limit int) (allowed bool, count int64, err error) {
	key := dailyKey(id, cmd, r.now())
	count, err = r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("daily counter %s: %w", key, err)
	}
	if count == 1 {
		r.rdb.Expire(ctx, key, dailyCounterTTL)
	}
	if limit > 0 && count > int64(limit) {
		return false, count, nil
	}
	return true, count, nil
}

func (r *Redis) Device(ctx context.Context, id string) (map[string]string, error) {
	return r.rdb.HGetAll(ctx, deviceKey(id)).Result()
}

func (r *Redis) Name() string { return "redis" }

// Publish keeps the last tracking point per device and the ICCID when the
// record carried one.
func (r *Redis) Publish(ctx context.Context, ev pipeline.Event) error {
	if ev.Kind != pipeline.EventTracking || ev.Tracking == nil {
		return nil
	}
	tr := ev.Tracking
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, trackingKey(ev.DeviceID),
			"dt", tr.Datetime,
			"lat", strconv.FormatFloat(tr.Lat, 'f', 7, 64),
			"lon", strconv.FormatFloat(tr.Lon, 'f', 7, 64),
			"spd", tr.Spd,
			"fix", tr.Fix,
			"msg_type", tr.MsgType,
		)
		if tr.ICCID != "" {
			p.HSet(ctx, deviceKey(ev.DeviceID), "iccid", tr.ICCID)
		}
		return nil
	})
	return err
}

func (r *Redis) LastTracking(ctx context.Context, id string) (map[string]string, error) {
	return r.rdb.HGetAll(ctx, trackingKey(id)).Result()
}
