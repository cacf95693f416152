package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"patient-passport-access/internal/domain/otp"

	"github.com/redis/go-redis/v9"
)

// Retención extra del hash del código después de expirar (solo diagnóstico).
const codeRetention = 24 * time.Hour

// OTPRepo guarda los códigos en Redis:
//
//	<prefix>code:<id>                      hash con los campos del código
//	<prefix>active:<requester>:<patient>   id del código activo (TTL = vida del código)
//
// Cada operación de escritura es un script Lua, así que es atómica por par.
type OTPRepo struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewOTPRepo(rdb redis.UniversalClient, prefix string) *OTPRepo {
	if prefix == "" {
		prefix = "passport:otp:"
	}
	return &OTPRepo{rdb: rdb, prefix: prefix}
}

var issueScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local ck = ARGV[9] .. cur
  local exp = tonumber(redis.call('HGET', ck, 'expires_at') or '0')
  local consumed = redis.call('HGET', ck, 'consumed_at')
  if exp > tonumber(ARGV[7]) and (not consumed or consumed == '') then
    return {1, cur}
  end
end
redis.call('HSET', KEYS[2],
  'id', ARGV[1], 'requester_id', ARGV[2], 'patient_id', ARGV[3],
  'code_hash', ARGV[4], 'issued_at', ARGV[5], 'expires_at', ARGV[6],
  'consumed_at', '', 'attempt_count', '0')
redis.call('PEXPIRE', KEYS[2], ARGV[10])
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[8])
return {0, ARGV[1]}
`)

// -1: no existe, consumido o expirado; -2: tope de intentos; n: intentos tras reservar
var reserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local consumed = redis.call('HGET', KEYS[1], 'consumed_at')
if consumed and consumed ~= '' then
  return -1
end
if tonumber(redis.call('HGET', KEYS[1], 'expires_at') or '0') <= tonumber(ARGV[2]) then
  return -1
end
if tonumber(redis.call('HGET', KEYS[1], 'attempt_count') or '0') >= tonumber(ARGV[1]) then
  return -2
end
return redis.call('HINCRBY', KEYS[1], 'attempt_count', 1)
`)

// -1: no existe o expirado, 0: ya consumido, 1: ok
var consumeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local consumed = redis.call('HGET', KEYS[1], 'consumed_at')
if consumed and consumed ~= '' then
  return 0
end
if tonumber(redis.call('HGET', KEYS[1], 'expires_at') or '0') <= tonumber(ARGV[1]) then
  return -1
end
redis.call('HSET', KEYS[1], 'consumed_at', ARGV[1])
local ak = ARGV[2] .. redis.call('HGET', KEYS[1], 'requester_id') .. ':' .. redis.call('HGET', KEYS[1], 'patient_id')
if redis.call('GET', ak) == ARGV[3] then
  redis.call('DEL', ak)
end
return 1
`)

func (r *OTPRepo) IssueIfNone(ctx context.Context, c otp.Code, now time.Time) (otp.Code, bool, error) {
	ttl := c.ExpiresAt.Sub(now)
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	res, err := issueScript.Run(ctx, r.rdb,
		[]string{r.activeKey(c.RequesterID, c.PatientID), r.codeKey(c.ID)},
		c.ID,
		c.RequesterID,
		c.PatientID,
		c.CodeHash,
		c.IssuedAt.UnixMilli(),
		c.ExpiresAt.UnixMilli(),
		now.UnixMilli(),
		ttl.Milliseconds(),
		r.prefix+"code:",
		(ttl + codeRetention).Milliseconds(),
	).Slice()
	if err != nil {
		return otp.Code{}, false, err
	}
	if len(res) != 2 {
		return otp.Code{}, false, fmt.Errorf("unexpected issue script result: %v", res)
	}

	existing, _ := res[0].(int64)
	if existing == 0 {
		return c, false, nil
	}
	id, _ := res[1].(string)
	cur, err := r.get(ctx, id)
	if err != nil {
		return otp.Code{}, false, err
	}
	return cur, true, nil
}

func (r *OTPRepo) Active(ctx context.Context, requesterID, patientID string, now time.Time) (otp.Code, error) {
	id, err := r.rdb.Get(ctx, r.activeKey(requesterID, patientID)).Result()
	if errors.Is(err, redis.Nil) {
		return otp.Code{}, otp.ErrNotFound
	}
	if err != nil {
		return otp.Code{}, err
	}

	c, err := r.get(ctx, id)
	if err != nil {
		return otp.Code{}, err
	}
	if !c.ActiveAt(now) {
		return otp.Code{}, otp.ErrNotFound
	}
	return c, nil
}

func (r *OTPRepo) ReserveAttempt(ctx context.Context, id string, max int, now time.Time) (int, error) {
	n, err := reserveScript.Run(ctx, r.rdb, []string{r.codeKey(id)}, max, now.UnixMilli()).Int()
	if err != nil {
		return 0, err
	}
	switch {
	case n == -2:
		return max, otp.ErrLocked
	case n < 0:
		return 0, otp.ErrNotFound
	}
	return n, nil
}

func (r *OTPRepo) Consume(ctx context.Context, id string, at time.Time) error {
	n, err := consumeScript.Run(ctx, r.rdb,
		[]string{r.codeKey(id)},
		at.UnixMilli(),
		r.prefix+"active:",
		id,
	).Int()
	if err != nil {
		return err
	}
	switch n {
	case -1:
		return otp.ErrNotFound
	case 0:
		return otp.ErrConflict
	}
	return nil
}

func (r *OTPRepo) get(ctx context.Context, id string) (otp.Code, error) {
	m, err := r.rdb.HGetAll(ctx, r.codeKey(id)).Result()
	if err != nil {
		return otp.Code{}, err
	}
	if len(m) == 0 {
		return otp.Code{}, otp.ErrNotFound
	}

	c := otp.Code{
		ID:          m["id"],
		RequesterID: m["requester_id"],
		PatientID:   m["patient_id"],
		CodeHash:    m["code_hash"],
	}
	if c.IssuedAt, err = parseMillis(m["issued_at"]); err != nil {
		return otp.Code{}, err
	}
	if c.ExpiresAt, err = parseMillis(m["expires_at"]); err != nil {
		return otp.Code{}, err
	}
	if v := m["consumed_at"]; v != "" {
		t, err := parseMillis(v)
		if err != nil {
			return otp.Code{}, err
		}
		c.ConsumedAt = &t
	}
	if v := m["attempt_count"]; v != "" {
		if c.AttemptCount, err = strconv.Atoi(v); err != nil {
			return otp.Code{}, fmt.Errorf("attempt_count: %w", err)
		}
	}
	return c, nil
}

func (r *OTPRepo) codeKey(id string) string {
	return r.prefix + "code:" + id
}

func (r *OTPRepo) activeKey(requesterID, patientID string) string {
	return r.prefix + "active:" + requesterID + ":" + patientID
}

func parseMillis(v string) (time.Time, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", v, err)
	}
	return time.UnixMilli(n).UTC(), nil
}
