package infra

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"bus-booking/booking/domain"

	"github.com/redis/go-redis/v9"
)

// submitScript registra a chave de dedup e adiciona ao stream na mesma operação.
// Retorna {1, id} para mensagem nova e {0, id original} para duplicada.
var submitScript = redis.NewScript(`
local prev = redis.call('GET', KEYS[1])
if prev then
	return {0, prev}
end
local id = redis.call('XADD', KEYS[2], '*', 'body', ARGV[2], 'group', ARGV[3], 'dedup', ARGV[4])
redis.call('SET', KEYS[1], id, 'PX', ARGV[1])
return {1, id}
`)

// leaseScript percorre o stream em ordem e empresta até ARGV[3] entradas.
// O hash KEYS[2] guarda "entregas:visivelEm" por id. Uma entrada ainda
// invisível bloqueia o grupo inteiro, então nenhuma mensagem posterior do
// mesmo grupo sai antes dela.
var leaseScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local vis = tonumber(ARGV[2])
local want = tonumber(ARGV[3])
local entries = redis.call('XRANGE', KEYS[1], '-', '+', 'COUNT', ARGV[4])
local blocked = {}
local out = {}
for _, e in ipairs(entries) do
	if #out >= want then
		break
	end
	local id = e[1]
	local fields = e[2]
	local group, body = '', ''
	for i = 1, #fields, 2 do
		if fields[i] == 'group' then
			group = fields[i + 1]
		elseif fields[i] == 'body' then
			body = fields[i + 1]
		end
	end
	local count, visibleAt = 0, 0
	local st = redis.call('HGET', KEYS[2], id)
	if st then
		local sep = string.find(st, ':', 1, true)
		count = tonumber(string.sub(st, 1, sep - 1))
		visibleAt = tonumber(string.sub(st, sep + 1))
	end
	if visibleAt > now then
		blocked[group] = true
	elseif not blocked[group] then
		count = count + 1
		redis.call('HSET', KEYS[2], id, count .. ':' .. (now + vis))
		table.insert(out, {id, group, body, count})
	end
end
return out
`)

const defaultRedisScanLimit = 1000

// RedisQueue guarda as mensagens num stream, na ordem de envio.
//
// Cada entrega é um empréstimo com prazo (visibility timeout) registrado no
// hash <stream>:leases. Enquanto um item do grupo está emprestado ou esperando
// reentrega, as mensagens seguintes do mesmo grupo ficam retidas; grupos
// diferentes continuam saindo. Itens bem sucedidos são removidos do stream.
// Ao atingir maxDeliveries o item vai para o stream de dead letters.
type RedisQueue struct {
	rdb redis.UniversalClient

	stream     string
	deadStream string
	leases     string
	dedupPref  string

	dedupWindow   time.Duration
	visibility    time.Duration
	poll          time.Duration
	maxDeliveries int
	scanLimit     int

	now    func() time.Time
	logger *slog.Logger
}

type RedisQueueOption func(*RedisQueue)

func WithStream(name string) RedisQueueOption {
	return func(q *RedisQueue) {
		q.stream = name
		q.deadStream = name + ":dead"
		q.leases = name + ":leases"
	}
}

func WithRedisDedupWindow(d time.Duration) RedisQueueOption {
	return func(q *RedisQueue) { q.dedupWindow = d }
}

func WithRedisVisibility(d time.Duration) RedisQueueOption {
	return func(q *RedisQueue) { q.visibility = d }
}

func WithRedisMaxDeliveries(n int) RedisQueueOption {
	return func(q *RedisQueue) { q.maxDeliveries = n }
}

func WithRedisPollInterval(d time.Duration) RedisQueueOption {
	return func(q *RedisQueue) { q.poll = d }
}

// WithRedisScanLimit limita quantas entradas do início do stream cada leitura examina.
func WithRedisScanLimit(n int) RedisQueueOption {
	return func(q *RedisQueue) { q.scanLimit = n }
}

func WithRedisClock(now func() time.Time) RedisQueueOption {
	return func(q *RedisQueue) { q.now = now }
}

func WithRedisQueueLogger(l *slog.Logger) RedisQueueOption {
	return func(q *RedisQueue) { q.logger = l }
}

func NewRedisQueue(rdb redis.UniversalClient, opts ...RedisQueueOption) *RedisQueue {
	q := &RedisQueue{
		rdb:           rdb,
		stream:        "booking:requests",
		deadStream:    "booking:requests:dead",
		leases:        "booking:requests:leases",
		dedupPref:     "booking:dedup",
		dedupWindow:   DefaultDedupWindow,
		visibility:    DefaultVisibilityTimeout,
		poll:          DefaultPollInterval,
		maxDeliveries: DefaultMaxDeliveries,
		scanLimit:     defaultRedisScanLimit,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.dedupWindow < time.Millisecond {
		q.dedupWindow = DefaultDedupWindow
	}
	if q.poll <= 0 {
		q.poll = DefaultPollInterval
	}
	if q.scanLimit <= 0 {
		q.scanLimit = defaultRedisScanLimit
	}
	return q
}

func (q *RedisQueue) Stream() string     { return q.stream }
func (q *RedisQueue) DeadStream() string { return q.deadStream }

func (q *RedisQueue) Submit(ctx context.Context, msg domain.QueueMessage) (domain.SubmitAck, error) {
	keys := []string{q.dedupPref + ":" + msg.DedupKey, q.stream}
	res, err := submitScript.Run(ctx, q.rdb, keys,
		q.dedupWindow.Milliseconds(), msg.Body, msg.GroupKey, msg.DedupKey,
	).Slice()
	if err != nil {
		return domain.SubmitAck{}, err
	}
	if len(res) != 2 {
		return domain.SubmitAck{}, fmt.Errorf("unexpected submit reply: %v", res)
	}

	fresh, _ := res[0].(int64)
	id, _ := res[1].(string)
	return domain.SubmitAck{MessageID: id, Duplicate: fresh == 0}, nil
}

func (q *RedisQueue) Consume(ctx context.Context, batchSize int, handler domain.BatchHandler) error {
	if batchSize <= 0 {
		batchSize = 1
	}

	for ctx.Err() == nil {
		items, err := q.receive(ctx, batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			q.logger.Error("stream read failed", "stream", q.stream, "err", err)
			q.wait(ctx, time.Second)
			continue
		}
		if len(items) == 0 {
			q.wait(ctx, q.poll)
			continue
		}

		res, err := handler(ctx, items)
		if err != nil {
			q.logger.Warn("batch handler failed; entries wait for redelivery", "items", len(items), "err", err)
			continue
		}
		if err := q.resolve(ctx, items, res); err != nil {
			q.logger.Error("resolve failed", "stream", q.stream, "err", err)
		}
	}
	return nil
}

func (q *RedisQueue) wait(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// receive empresta até n itens visíveis, respeitando a ordem de cada grupo.
func (q *RedisQueue) receive(ctx context.Context, n int) ([]domain.DeliveredItem, error) {
	res, err := leaseScript.Run(ctx, q.rdb, []string{q.stream, q.leases},
		q.now().UnixMilli(), q.visibility.Milliseconds(), n, q.scanLimit,
	).Slice()
	if err != nil {
		return nil, err
	}

	items := make([]domain.DeliveredItem, 0, len(res))
	for _, row := range res {
		item, err := leasedItem(row)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func leasedItem(row any) (domain.DeliveredItem, error) {
	cols, ok := row.([]any)
	if !ok || len(cols) != 4 {
		return domain.DeliveredItem{}, fmt.Errorf("unexpected lease reply: %v", row)
	}
	id, _ := cols[0].(string)
	group, _ := cols[1].(string)
	body, _ := cols[2].(string)
	count, _ := cols[3].(int64)
	return domain.DeliveredItem{
		ItemID:       id,
		Body:         []byte(body),
		GroupKey:     group,
		ReceiveCount: int(count),
	}, nil
}

// resolve remove os itens bem sucedidos e move para dead letters os que
// esgotaram as entregas. Os demais falhos mantêm o empréstimo até vencer.
func (q *RedisQueue) resolve(ctx context.Context, items []domain.DeliveredItem, res domain.BatchResult) error {
	failed := res.FailedIDs()
	var done, dead []domain.DeliveredItem
	for _, it := range items {
		_, isFailed := failed[it.ItemID]
		switch {
		case !isFailed:
			done = append(done, it)
		case q.maxDeliveries > 0 && it.ReceiveCount >= q.maxDeliveries:
			dead = append(dead, it)
		}
	}
	if len(done)+len(dead) == 0 {
		return nil
	}

	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, it := range dead {
			pipe.XAdd(ctx, &redis.XAddArgs{Stream: q.deadStream, Values: map[string]any{
				"id":            it.ItemID,
				"body":          string(it.Body),
				"group":         it.GroupKey,
				"receive_count": strconv.Itoa(it.ReceiveCount),
			}})
		}
		for _, it := range append(done, dead...) {
			pipe.XDel(ctx, q.stream, it.ItemID)
			pipe.HDel(ctx, q.leases, it.ItemID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, it := range dead {
		q.logger.Warn("message moved to dead letters", "id", it.ItemID, "group", it.GroupKey, "stream", q.deadStream)
	}
	return nil
}
