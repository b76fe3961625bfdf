package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sifan077/shorturl/internal/app/model"
)

const defaultKeyPrefix = "shorturl"

// Link hash fields.
const (
	fieldURL       = "url"
	fieldCode      = "code"
	fieldClicks    = "clicks"
	fieldCreatedAt = "created_at"
	fieldOwner     = "owner"
)

// incrementScript bumps the click counter only if the link hash exists.
var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
return redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
`)

// recordScript increments the counter and appends the event in one step.
var recordScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
return n
`)

// Redis is a store implementing LinkRepository, ClickEventRepository and
// ClickRecorder on top of Redis hashes, sets and sorted sets.
//
// Layout, relative to the key prefix:
//
//	link:seq          link id sequence
//	link:{id}         hash with url, code, clicks, created_at, owner
//	code:{code}       link id
//	owner:{id}        set of link ids
//	click:seq         click event id sequence
//	clicks:{linkID}   sorted set of "eventID:unixNano", scored by unix millis
type Redis struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedis returns a Redis-backed store. An empty prefix selects "shorturl".
func NewRedis(rdb redis.Cmdable, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

// Store returns r wrapped as a Store.
func (r *Redis) Store() Store {
	return Store{Links: r, Clicks: r, Recorder: r}
}

func (r *Redis) key(parts ...string) string {
	return r.prefix + ":" + strings.Join(parts, ":")
}

func (r *Redis) linkKey(id int64) string { return r.key("link", strconv.FormatInt(id, 10)) }
func (r *Redis) codeKey(code string) string { return r.key("code", code) }
func (r *Redis) ownerKey(id int64) string { return r.key("owner", strconv.FormatInt(id, 10)) }
func (r *Redis) clicksKey(id int64) string { return r.key("clicks", strconv.FormatInt(id, 10)) }

func (r *Redis) Insert(ctx context.Context, link *model.Link) (int64, error) {
	id, err := r.rdb.Incr(ctx, r.key("link", "seq")).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: next link id: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.linkKey(id), map[string]interface{}{
			fieldURL:       link.OriginalURL,
			fieldClicks:    link.ClickCount,
			fieldCreatedAt: link.CreatedAt.UnixNano(),
			fieldOwner:     link.OwnerID,
		})
		pipe.SAdd(ctx, r.ownerKey(link.OwnerID), id)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis: insert link: %w", err)
	}

	link.ID = id
	return id, nil
}

func (r *Redis) UpdateCode(ctx context.Context, id int64, code string) error {
	exists, err := r.rdb.Exists(ctx, r.linkKey(id)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrLinkNotFound
	}

	ok, err := r.rdb.SetNX(ctx, r.codeKey(code), id, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		bound, err := r.rdb.Get(ctx, r.codeKey(code)).Int64()
		if err != nil {
			return err
		}
		if bound != id {
			return ErrDuplicateCode
		}
	}

	return r.rdb.HSet(ctx, r.linkKey(id), fieldCode, code).Err()
}

func (r *Redis) FindByCode(ctx context.Context, code string) (*model.Link, error) {
	id, err := r.rdb.Get(ctx, r.codeKey(code)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}

	fields, err := r.rdb.HGetAll(ctx, r.linkKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrLinkNotFound
	}

	link, err := parseLink(id, fields)
	if err != nil {
		return nil, err
	}
	// The code key is written before the hash field.
	if link.ShortCode == nil {
		link.ShortCode = &code
	}
	return link, nil
}

func (r *Redis) FindByOwner(ctx context.Context, ownerID int64) ([]model.Link, error) {
	members, err := r.rdb.SMembers(ctx, r.ownerKey(ownerID)).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis: owner %d has malformed link id %q: %w", ownerID, m, err)
		}
		ids = append(ids, id)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, r.linkKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := make([]model.Link, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 || fields[fieldCode] == "" {
			continue
		}
		link, err := parseLink(ids[i], fields)
		if err != nil {
			return nil, err
		}
		result = append(result, *link)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *Redis) IncrementClickCount(ctx context.Context, id int64) (int64, error) {
	n, err := incrementScript.Run(ctx, r.rdb, []string{r.linkKey(id)}, fieldClicks).Int64()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, ErrLinkNotFound
	}
	return n, nil
}

func (r *Redis) Append(ctx context.Context, event *model.ClickEvent) error {
	exists, err := r.rdb.Exists(ctx, r.linkKey(event.LinkID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrLinkNotFound
	}

	id, err := r.nextEventID(ctx)
	if err != nil {
		return err
	}

	if err := r.rdb.ZAdd(ctx, r.clicksKey(event.LinkID), redis.Z{
		Score:  float64(event.OccurredAt.UnixMilli()),
		Member: encodeEvent(id, event.OccurredAt),
	}).Err(); err != nil {
		return err
	}
	event.ID = id
	return nil
}

func (r *Redis) RecordClick(ctx context.Context, event *model.ClickEvent) (int64, error) {
	id, err := r.nextEventID(ctx)
	if err != nil {
		return 0, err
	}

	n, err := recordScript.Run(ctx, r.rdb,
		[]string{r.linkKey(event.LinkID), r.clicksKey(event.LinkID)},
		fieldClicks, event.OccurredAt.UnixMilli(), encodeEvent(id, event.OccurredAt),
	).Int64()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, ErrLinkNotFound
	}

	event.ID = id
	return n, nil
}

func (r *Redis) nextEventID(ctx context.Context) (int64, error) {
	id, err := r.rdb.Incr(ctx, r.key("click", "seq")).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: next click id: %w", err)
	}
	return id, nil
}

func (r *Redis) FindByLinkAndRange(ctx context.Context, linkID int64, start, end time.Time) ([]model.ClickEvent, error) {
	members, err := r.rdb.ZRangeByScore(ctx, r.clicksKey(linkID), &redis.ZRangeBy{
		Min: strconv.FormatInt(start.UnixMilli(), 10),
		Max: strconv.FormatInt(end.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}

	result := make([]model.ClickEvent, 0, len(members))
	for _, m := range members {
		event, err := decodeEvent(linkID, m)
		if err != nil {
			return nil, err
		}
		// Scores are millisecond-grained; filter on the exact timestamp.
		if inRange(event.OccurredAt, start, end) {
			result = append(result, event)
		}
	}
	return result, nil
}

func (r *Redis) FindByLinksAndRange(ctx context.Context, linkIDs []int64, start, end time.Time) ([]model.ClickEvent, error) {
	var result []model.ClickEvent
	for _, id := range linkIDs {
		events, err := r.FindByLinkAndRange(ctx, id, start, end)
		if err != nil {
			return nil, err
		}
		result = append(result, events...)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].OccurredAt.Before(result[j].OccurredAt) })
	return result, nil
}

func parseLink(id int64, fields map[string]string) (*model.Link, error) {
	clicks, err := strconv.ParseInt(fields[fieldClicks], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis: link %d clicks: %w", id, err)
	}
	createdAt, err := strconv.ParseInt(fields[fieldCreatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis: link %d created_at: %w", id, err)
	}
	owner, err := strconv.ParseInt(fields[fieldOwner], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis: link %d owner: %w", id, err)
	}

	link := &model.Link{
		ID:          id,
		OriginalURL: fields[fieldURL],
		ClickCount:  clicks,
		CreatedAt:   time.Unix(0, createdAt).UTC(),
		OwnerID:     owner,
	}
	if code := fields[fieldCode]; code != "" {
		link.ShortCode = &code
	}
	return link, nil
}

func encodeEvent(id int64, at time.Time) string {
	return strconv.FormatInt(id, 10) + ":" + strconv.FormatInt(at.UnixNano(), 10)
}

func decodeEvent(linkID int64, member string) (model.ClickEvent, error) {
	idPart, tsPart, ok := strings.Cut(member, ":")
	if !ok {
		return model.ClickEvent{}, fmt.Errorf("redis: malformed click member %q", member)
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return model.ClickEvent{}, fmt.Errorf("redis: click member %q: %w", member, err)
	}
	ns, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return model.ClickEvent{}, fmt.Errorf("redis: click member %q: %w", member, err)
	}
	return model.ClickEvent{ID: id, LinkID: linkID, OccurredAt: time.Unix(0, ns).UTC()}, nil
}
