package queue

import "github.com/redis/go-redis/v9"

// Per-queue key layout, all under the {queue} hash tag:
//
//	job:<id>   hash  body, state, attempts, avail, score, error, leased, expires
//	waiting    zset  id scored by priority*1e13 + available_at_ms
//	delayed    zset  id scored by available_at_ms
//	active     zset  id scored by lease expiry ms
//	dedupe     hash  dedupe key -> id
//	completed  list  retained completed ids
//	failed     list  retained dead ids
//	stats      hash  completed / failed totals

// KEYS: job, waiting, delayed, dedupe
// ARGV: id, body, dedupe key, avail ms, now ms, score, attempts
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return -1
end
if ARGV[3] ~= '' then
	local existing = redis.call('HGET', KEYS[4], ARGV[3])
	if existing then
		return existing
	end
	redis.call('HSET', KEYS[4], ARGV[3], ARGV[1])
end
redis.call('HSET', KEYS[1], 'body', ARGV[2], 'state', 'waiting', 'attempts', ARGV[7],
	'avail', ARGV[4], 'score', ARGV[6], 'error', '', 'leased', '', 'expires', '')
if tonumber(ARGV[4]) > tonumber(ARGV[5]) then
	redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
else
	redis.call('ZADD', KEYS[2], ARGV[6], ARGV[1])
end
return 1
`)

// KEYS: waiting, delayed, active
// ARGV: key base, now ms, lease expiry ms, lease token
var leaseScript = redis.NewScript(`
for _, id in ipairs(redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[2])) do
	redis.call('ZREM', KEYS[2], id)
	local score = redis.call('HGET', ARGV[1] .. 'job:' .. id, 'score')
	if score then
		redis.call('ZADD', KEYS[1], score, id)
	end
end
for _, id in ipairs(redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[2])) do
	local key = ARGV[1] .. 'job:' .. id
	redis.call('ZREM', KEYS[3], id)
	redis.call('HSET', key, 'state', 'waiting', 'leased', '', 'expires', '')
	local score = redis.call('HGET', key, 'score')
	if score then
		redis.call('ZADD', KEYS[1], score, id)
	end
end
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
	return false
end
local key = ARGV[1] .. 'job:' .. popped[1]
redis.call('HSET', key, 'state', 'active', 'leased', ARGV[4], 'expires', ARGV[3])
redis.call('ZADD', KEYS[3], ARGV[3], popped[1])
return popped[1]
`)

// KEYS: active, job
// ARGV: id, lease token, lease expiry ms
var extendScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], 'state') ~= 'active' or redis.call('HGET', KEYS[2], 'leased') ~= ARGV[2] then
	return 0
end
redis.call('HSET', KEYS[2], 'expires', ARGV[3])
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
return 1
`)

// KEYS: active, job, waiting, delayed
// ARGV: id, lease token, attempts, avail ms, now ms, score, error
var nackScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], 'state') ~= 'active' or redis.call('HGET', KEYS[2], 'leased') ~= ARGV[2] then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], 'state', 'retrying', 'attempts', ARGV[3], 'avail', ARGV[4],
	'score', ARGV[6], 'error', ARGV[7], 'leased', '', 'expires', '')
if tonumber(ARGV[4]) > tonumber(ARGV[5]) then
	redis.call('ZADD', KEYS[4], ARGV[4], ARGV[1])
else
	redis.call('ZADD', KEYS[3], ARGV[6], ARGV[1])
end
return 1
`)

// finishScript moves a held envelope to a terminal state (completed or dead).
//
// KEYS: active, job, dedupe, retained list, stats
// ARGV: id, lease token, state, attempts, error, dedupe key, keep, key base
var finishScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], 'state') ~= 'active' or redis.call('HGET', KEYS[2], 'leased') ~= ARGV[2] then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], 'state', ARGV[3], 'attempts', ARGV[4], 'error', ARGV[5], 'expires', '')
if ARGV[6] ~= '' and redis.call('HGET', KEYS[3], ARGV[6]) == ARGV[1] then
	redis.call('HDEL', KEYS[3], ARGV[6])
end
redis.call('HINCRBY', KEYS[5], ARGV[3], 1)
redis.call('RPUSH', KEYS[4], ARGV[1])
local keep = tonumber(ARGV[7])
while redis.call('LLEN', KEYS[4]) > keep do
	local old = redis.call('LPOP', KEYS[4])
	redis.call('DEL', ARGV[8] .. 'job:' .. old)
end
return 1
`)
