package store

import "github.com/redis/go-redis/v9"

// windowScript 固定窗口计数
// KEYS[1]=计数键 ARGV[1]=上限 ARGV[2]=窗口毫秒
// 超限时不自增，返回 {allowed, count, pttl}
var windowScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if cur >= tonumber(ARGV[1]) then
  local ttl = redis.call('PTTL', KEYS[1])
  if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
    ttl = tonumber(ARGV[2])
  end
  return {0, cur, ttl}
end
cur = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return {1, cur, ttl}
`)

// claimScript 容量受限占位
// KEYS[1]=guard KEYS[2]=成员集合 KEYS[3]=持有者哈希
// ARGV[1]=成员 ARGV[2]=持有者 ARGV[3]=上限 ARGV[4]=guard 中的上限字段（可空）
// 返回 {status, count, superseded}，status: -1 guard 缺失 0 已满 1 成功
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-1, 0, ''}
end
local limit = tonumber(ARGV[3])
if ARGV[4] ~= '' then
  local v = tonumber(redis.call('HGET', KEYS[1], ARGV[4]))
  if v then
    limit = v
  end
end
local prev = redis.call('HGET', KEYS[3], ARGV[1])
if prev and redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
  redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
  if prev == ARGV[2] then
    prev = ''
  end
  return {1, redis.call('SCARD', KEYS[2]), prev}
end
local n = redis.call('SCARD', KEYS[2])
if n >= limit then
  return {0, n, ''}
end
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
return {1, n + 1, ''}
`)

// releaseScript 条件释放
// KEYS[1]=成员集合 KEYS[2]=持有者哈希 ARGV[1]=成员 ARGV[2]=持有者（空为无条件）
var releaseScript = redis.NewScript(`
if ARGV[2] ~= '' then
  local cur = redis.call('HGET', KEYS[2], ARGV[1])
  if cur ~= ARGV[2] then
    return {0, redis.call('SCARD', KEYS[1])}
  end
end
local removed = redis.call('SREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
return {removed, redis.call('SCARD', KEYS[1])}
`)

// removeIfEmptyScript 集合为空时删除 KEYS[2..n]
var removeIfEmptyScript = redis.NewScript(`
if redis.call('SCARD', KEYS[1]) > 0 then
  return 0
end
for i = 2, #KEYS do
  redis.call('DEL', KEYS[i])
end
return 1
`)

// hcreateScript 哈希不存在时创建
// KEYS[1]=哈希 ARGV[1]=过期毫秒 ARGV[2..]=field,value...
var hcreateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
for i = 2, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
if tonumber(ARGV[1]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return 1
`)

// condLua 条件前缀，不满足时返回 0
// KEYS[1]=哈希 KEYS[2]=集合（可选） ARGV[1]=字段 ARGV[2]=期望值 ARGV[3]=集合上限
const condLua = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
if ARGV[1] ~= '' and redis.call('HGET', KEYS[1], ARGV[1]) ~= ARGV[2] then
  return 0
end
if #KEYS > 1 and redis.call('SCARD', KEYS[2]) > tonumber(ARGV[3]) then
  return 0
end
`

// hsetIfScript 条件写入 ARGV[4..]=field,value...
var hsetIfScript = redis.NewScript(condLua + `
for i = 4, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

// hdelIfScript 条件删除整个哈希
var hdelIfScript = redis.NewScript(condLua + `
redis.call('DEL', KEYS[1])
return 1
`)
