package redis

import goredis "github.com/redis/go-redis/v9"

// claimScript is the window compare-and-set. Redis runs scripts atomically,
// so the read of last_attempted_at and the write cannot interleave with
// another client.
//
// KEYS[1] marker hash
// ARGV[1] now (unix ms), ARGV[2] window start, ARGV[3] window end,
// ARGV[4..6] task name, profile id, profile type
var claimScript = goredis.NewScript(`
local at = redis.call('HGET', KEYS[1], 'last_attempted_at')
if at then
  local v = tonumber(at)
  if v >= tonumber(ARGV[2]) and v < tonumber(ARGV[3]) then
    return 0
  end
end
redis.call('HSET', KEYS[1],
  'last_attempted_at', ARGV[1],
  'task_name', ARGV[4],
  'cron_profile_id', ARGV[5],
  'cron_profile_type', ARGV[6])
return 1
`)

// recordScript appends a record and, when a marker key is given, folds the
// outcome into it. It returns 0 when the record ID already exists.
//
// KEYS[1] record key, KEYS[2] all-records index, KEYS[3] unit index,
// KEYS[4] trigger or on-demand index, KEYS[5] marker hash (optional)
// ARGV[1] encoded record, ARGV[2] record id, ARGV[3] started_at (unix ms),
// ARGV[4] outcome, ARGV[5] success time (unix ms) or "",
// ARGV[6..8] task name, profile id, profile type
var recordScript = goredis.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then
  return 0
end
local score = tonumber(ARGV[3])
redis.call('ZADD', KEYS[2], score, ARGV[2])
redis.call('ZADD', KEYS[3], score, ARGV[2])
redis.call('ZADD', KEYS[4], score, ARGV[2])
if #KEYS >= 5 then
  redis.call('HSETNX', KEYS[5], 'last_attempted_at', ARGV[3])
  redis.call('HSET', KEYS[5],
    'last_outcome', ARGV[4],
    'task_name', ARGV[6],
    'cron_profile_id', ARGV[7],
    'cron_profile_type', ARGV[8])
  if ARGV[5] ~= '' then
    redis.call('HSET', KEYS[5], 'last_successful_at', ARGV[5])
  end
end
return 1
`)
