package redisstore

import "github.com/redis/go-redis/v9"

const (
	statusMissing  int64 = -1
	statusRejected int64 = 0
	statusApplied  int64 = 1
)

// KEYS: email index, account hash, id index
// ARGV: subject key, id, email, password hash, confirmed, counter, now
const createAccountScript = `
if redis.call("EXISTS", KEYS[1]) == 1 or redis.call("EXISTS", KEYS[2]) == 1 or redis.call("EXISTS", KEYS[3]) == 1 then
  return 0
end
redis.call("HSET", KEYS[2],
  "id", ARGV[2],
  "subject_key", ARGV[1],
  "email", ARGV[3],
  "password_hash", ARGV[4],
  "confirmed", ARGV[5],
  "refresh_counter", ARGV[6],
  "created_at", ARGV[7],
  "updated_at", ARGV[7])
redis.call("SET", KEYS[1], ARGV[1])
redis.call("SET", KEYS[3], ARGV[1])
return 1
`

// KEYS: account hash
// ARGV: expected counter, now
const incrementCounterScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
local current = tonumber(redis.call("HGET", KEYS[1], "refresh_counter") or "-1")
if current ~= tonumber(ARGV[1]) then
  return 0
end
redis.call("HINCRBY", KEYS[1], "refresh_counter", 1)
redis.call("HSET", KEYS[1], "updated_at", ARGV[2])
return 1
`

// KEYS: account hash
// ARGV: now
const confirmAccountScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], "confirmed") == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "confirmed", "1", "updated_at", ARGV[1])
return 1
`

// KEYS: account hash
// ARGV: password hash, now
const updatePasswordScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
redis.call("HSET", KEYS[1], "password_hash", ARGV[1], "updated_at", ARGV[2])
return 1
`

var (
	createAccountLua    = redis.NewScript(createAccountScript)
	incrementCounterLua = redis.NewScript(incrementCounterScript)
	confirmAccountLua   = redis.NewScript(confirmAccountScript)
	updatePasswordLua   = redis.NewScript(updatePasswordScript)
)
