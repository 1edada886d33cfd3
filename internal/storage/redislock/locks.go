package redislock

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-books/internal/trade"
)

// lockPairScript ставит обе записи или ни одной. Возвращает 0 при успехе,
// иначе номер занятого ключа (1 или 2) и его владельца.
var lockPairScript = redis.NewScript(`
local a = redis.call("GET", KEYS[1])
if a and a ~= ARGV[1] then
	return {1, a}
end
local b = redis.call("GET", KEYS[2])
if b and b ~= ARGV[1] then
	return {2, b}
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("SET", KEYS[2], ARGV[1])
return {0, ""}
`)

// releaseHeldScript удаляет запись, только если она принадлежит сделке
var releaseHeldScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Backend хранит таблицу блокировок книг в Redis
type Backend struct {
	client *redis.Client
	prefix string
}

// New создаёт Backend. Ключи имеют вид <prefix><bookID>.
func New(client *redis.Client, prefix string) *Backend {
	return &Backend{client: client, prefix: prefix}
}

func (b *Backend) key(bookID uuid.UUID) string {
	return b.prefix + bookID.String()
}

func (b *Backend) TryLockPair(ctx context.Context, first, second, tradeID uuid.UUID) error {
	res, err := lockPairScript.Run(ctx, b.client, []string{b.key(first), b.key(second)}, tradeID.String()).Slice()
	if err != nil {
		return fmt.Errorf("redis: блокировка пары: %w", err)
	}
	if len(res) != 2 {
		return fmt.Errorf("redis: неожиданный ответ скрипта: %v", res)
	}

	busy, _ := res[0].(int64)
	if busy == 0 {
		return nil
	}
	bookID := first
	if busy == 2 {
		bookID = second
	}
	holderRaw, _ := res[1].(string)
	holder, err := uuid.Parse(holderRaw)
	if err != nil {
		return fmt.Errorf("redis: повреждённая запись книги %s: %w", bookID, err)
	}
	return &trade.BookUnavailableError{BookID: bookID, TradeID: holder}
}

func (b *Backend) Release(ctx context.Context, bookID uuid.UUID) error {
	if err := b.client.Del(ctx, b.key(bookID)).Err(); err != nil {
		return fmt.Errorf("redis: снятие блокировки %s: %w", bookID, err)
	}
	return nil
}

func (b *Backend) ReleaseHeld(ctx context.Context, bookID, tradeID uuid.UUID) error {
	if err := releaseHeldScript.Run(ctx, b.client, []string{b.key(bookID)}, tradeID.String()).Err(); err != nil {
		return fmt.Errorf("redis: снятие блокировки %s: %w", bookID, err)
	}
	return nil
}

func (b *Backend) Holder(ctx context.Context, bookID uuid.UUID) (uuid.UUID, bool, error) {
	value, err := b.client.Get(ctx, b.key(bookID)).Result()
	if err == redis.Nil {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("redis: чтение блокировки %s: %w", bookID, err)
	}
	holder, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("redis: повреждённая запись книги %s: %w", bookID, err)
	}
	return holder, true, nil
}

// Snapshot обходит ключи через SCAN, не блокируя Redis
func (b *Backend) Snapshot(ctx context.Context) (map[uuid.UUID]uuid.UUID, error) {
	result := make(map[uuid.UUID]uuid.UUID)
	iter := b.client.Scan(ctx, 0, b.prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		bookID, err := uuid.Parse(strings.TrimPrefix(key, b.prefix))
		if err != nil {
			continue
		}
		holder, ok, err := b.Holder(ctx, bookID)
		if err != nil {
			return nil, err
		}
		if ok {
			result[bookID] = holder
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: обход блокировок: %w", err)
	}
	return result, nil
}
