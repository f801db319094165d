package session

import "github.com/redis/go-redis/v9"

const (
	statusNotFound int64 = 0
	statusExpired  int64 = 1
	statusRotated  int64 = 2
	statusReused   int64 = 3
)

// luaDrop is shared by the invalidation scripts. ARGV[1..4] are always the
// record, pointer, device-set and tenant-set key prefixes.
const luaDrop = `
local sp, hp, up, itp = ARGV[1], ARGV[2], ARGV[3], ARGV[4]

local function drop(identity, tenant, device)
  local skey = sp .. tenant .. ":" .. identity .. ":" .. device
  local h = redis.call("HGET", skey, "h")
  if h then
    redis.call("DEL", hp .. h)
  end
  return redis.call("DEL", skey)
end

local function unindex(identity, tenant, device)
  local ukey = up .. tenant .. ":" .. identity
  redis.call("SREM", ukey, device)
  if redis.call("SCARD", ukey) == 0 then
    redis.call("SREM", itp .. identity, tenant)
  end
end

local function drop_tenant(identity, tenant)
  local ukey = up .. tenant .. ":" .. identity
  local n = 0
  for _, device in ipairs(redis.call("SMEMBERS", ukey)) do
    n = n + drop(identity, tenant, device)
  end
  redis.call("DEL", ukey)
  redis.call("SREM", itp .. identity, tenant)
  return n
end
`

// KEYS: record, device set, tenant set, new pointer.
// ARGV: hash, now ms, ttl ms, remember, identity, tenant, device, pointer value, pointer prefix, expiry ms.
var createLua = redis.NewScript(`
local ttl = tonumber(ARGV[3])
if ttl <= 0 then
  return 0
end

local old = redis.call("HGET", KEYS[1], "h")
if old then
  redis.call("DEL", ARGV[9] .. old)
end
redis.call("DEL", KEYS[1])

redis.call("HSET", KEYS[1],
  "h", ARGV[1], "c", ARGV[2], "lu", ARGV[2], "e", ARGV[10],
  "r", ARGV[4], "i", ARGV[5], "t", ARGV[6], "d", ARGV[7])
redis.call("PEXPIRE", KEYS[1], ttl)
redis.call("SET", KEYS[4], ARGV[8], "PX", ttl)
redis.call("SADD", KEYS[2], ARGV[7])
redis.call("SADD", KEYS[3], ARGV[6])

for _, k in ipairs({KEYS[2], KEYS[3]}) do
  if redis.call("PTTL", k) < ttl then
    redis.call("PEXPIRE", k, ttl)
  end
end
return 1
`)

// KEYS: presented pointer, presented tombstone, replacement pointer.
// ARGV: presented hash, replacement hash, now ms, reuse window ms, record prefix, device-set prefix, tenant-set prefix.
var rotateLua = redis.NewScript(`
local owner = redis.call("GET", KEYS[1])
if not owner then
  local t = redis.call("HMGET", KEYS[2], "i", "t", "d")
  if t[1] then
    return {3, t[1], t[2], t[3]}
  end
  return {0}
end

local skey = ARGV[5] .. owner
local rec = redis.call("HMGET", skey, "h", "e", "i", "t", "d", "c", "r")
if not rec[1] or rec[1] ~= ARGV[1] then
  redis.call("DEL", KEYS[1])
  return {0}
end

local now = tonumber(ARGV[3])
local expires = tonumber(rec[2])
if not expires or expires <= now then
  redis.call("DEL", KEYS[1], skey)
  local ukey = ARGV[6] .. rec[4] .. ":" .. rec[3]
  redis.call("SREM", ukey, rec[5])
  if redis.call("SCARD", ukey) == 0 then
    redis.call("SREM", ARGV[7] .. rec[3], rec[4])
  end
  return {1}
end

local remaining = expires - now
local window = tonumber(ARGV[4])
if window > remaining then
  window = remaining
end

redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[2], "i", rec[3], "t", rec[4], "d", rec[5])
redis.call("PEXPIRE", KEYS[2], window)
redis.call("HSET", skey, "h", ARGV[2], "lu", ARGV[3])
redis.call("SET", KEYS[3], owner, "PX", remaining)
return {2, rec[3], rec[4], rec[5], rec[6], rec[7], rec[2]}
`)

// KEYS: presented pointer. ARGV[5]: presented hash.
var invalidateOneLua = redis.NewScript(luaDrop + `
local owner = redis.call("GET", KEYS[1])
if not owner then
  return {0}
end
redis.call("DEL", KEYS[1])

local rec = redis.call("HMGET", sp .. owner, "h", "i", "t", "d")
if not rec[1] or rec[1] ~= ARGV[5] then
  return {0}
end
redis.call("DEL", sp .. owner)
unindex(rec[2], rec[3], rec[4])
return {1, rec[2], rec[3], rec[4]}
`)

// ARGV[5..7]: identity, tenant, device. An empty tenant revokes the device in
// every tenant of the identity.
var invalidateDeviceLua = redis.NewScript(luaDrop + `
local identity, tenant, device = ARGV[5], ARGV[6], ARGV[7]
local tenants = {tenant}
if tenant == "" then
  tenants = redis.call("SMEMBERS", itp .. identity)
end

local n = 0
for _, t in ipairs(tenants) do
  n = n + drop(identity, t, device)
  unindex(identity, t, device)
end
return n
`)

// ARGV[5..6]: identity, tenant.
var invalidateTenantLua = redis.NewScript(luaDrop + `
return drop_tenant(ARGV[5], ARGV[6])
`)

// ARGV[5]: identity.
var invalidateAllLua = redis.NewScript(luaDrop + `
local identity = ARGV[5]
local n = 0
for _, tenant in ipairs(redis.call("SMEMBERS", itp .. identity)) do
  n = n + drop_tenant(identity, tenant)
end
redis.call("DEL", itp .. identity)
return n
`)
