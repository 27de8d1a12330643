package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"bus-booking/booking/domain"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

const (
	headerDedupKey     = "dedup-key"
	headerReceiveCount = "receive-count"
)

type KafkaConfig struct {
	Brokers   string
	Topic     string
	DeadTopic string
	Group     string
}

// KafkaQueue publica no tópico usando o GroupKey como chave da mensagem: o mesmo
// grupo sempre cai na mesma partição, o que preserva a ordem.
//
// Kafka não deduplica por conteúdo, então o envio passa por uma DedupWindow.
// Um item com falha não é republicado: a partição volta ao primeiro offset
// falho e fica pausada pelo visibility timeout, e só os offsets anteriores são
// confirmados. Mensagens posteriores da partição que já deram certo não são
// entregues de novo. Acima de maxDeliveries o item vai para o tópico de dead
// letters e a partição segue.
type KafkaQueue struct {
	cfg      KafkaConfig
	producer *kafka.Producer
	consumer *kafka.Consumer

	dedup         DedupWindow
	dedupWindow   time.Duration
	maxDeliveries int
	visibility    time.Duration
	pollTimeout   time.Duration
	logger        *slog.Logger

	ledger *kafkaLedger
	paused map[topicPartition]time.Time
}

type KafkaQueueOption func(*KafkaQueue)

func WithKafkaDedupWindow(d time.Duration) KafkaQueueOption {
	return func(q *KafkaQueue) { q.dedupWindow = d }
}

func WithKafkaMaxDeliveries(n int) KafkaQueueOption {
	return func(q *KafkaQueue) { q.maxDeliveries = n }
}

func WithKafkaVisibility(d time.Duration) KafkaQueueOption {
	return func(q *KafkaQueue) { q.visibility = d }
}

func WithKafkaPollTimeout(d time.Duration) KafkaQueueOption {
	return func(q *KafkaQueue) { q.pollTimeout = d }
}

func WithKafkaLogger(l *slog.Logger) KafkaQueueOption {
	return func(q *KafkaQueue) { q.logger = l }
}

// NewKafkaQueue cria o producer. O consumer só é criado quando cfg.Group está
// preenchido (o gateway apenas publica).
func NewKafkaQueue(cfg KafkaConfig, dedup DedupWindow, opts ...KafkaQueueOption) (*KafkaQueue, error) {
	if cfg.DeadTopic == "" {
		cfg.DeadTopic = cfg.Topic + ".dead"
	}
	q := &KafkaQueue{
		cfg:           cfg,
		dedup:         dedup,
		dedupWindow:   DefaultDedupWindow,
		maxDeliveries: DefaultMaxDeliveries,
		visibility:    DefaultVisibilityTimeout,
		pollTimeout:   time.Second,
		logger:        slog.Default(),
		ledger:        newKafkaLedger(),
		paused:        make(map[topicPartition]time.Time),
	}
	for _, opt := range opts {
		opt(q)
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}
	q.producer = p

	if cfg.Group != "" {
		c, err := kafka.NewConsumer(&kafka.ConfigMap{
			"bootstrap.servers":    cfg.Brokers,
			"group.id":             cfg.Group,
			"enable.auto.commit":   false,
			"enable.partition.eof": false,
			"auto.offset.reset":    "earliest",
		})
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("create consumer: %w", err)
		}
		if err := c.SubscribeTopics([]string{cfg.Topic}, nil); err != nil {
			c.Close()
			p.Close()
			return nil, fmt.Errorf("subscribe %s: %w", cfg.Topic, err)
		}
		q.consumer = c
	}
	return q, nil
}

func (q *KafkaQueue) Submit(ctx context.Context, msg domain.QueueMessage) (domain.SubmitAck, error) {
	fresh, err := q.dedup.Claim(ctx, msg.DedupKey, q.dedupWindow)
	if err != nil {
		return domain.SubmitAck{}, fmt.Errorf("dedup claim: %w", err)
	}
	if !fresh {
		return domain.SubmitAck{Duplicate: true}, nil
	}

	m, err := q.produce(ctx, q.cfg.Topic, msg.GroupKey, msg.Body, kafkaHeaders(msg.DedupKey, 0))
	if err != nil {
		if rerr := q.dedup.Release(ctx, msg.DedupKey); rerr != nil {
			q.logger.Warn("dedup release failed", "dedup", msg.DedupKey, "err", rerr)
		}
		return domain.SubmitAck{}, err
	}
	return domain.SubmitAck{MessageID: kafkaItemID(m)}, nil
}

// produce envia e espera o delivery report.
func (q *KafkaQueue) produce(ctx context.Context, topic, key string, value []byte, headers []kafka.Header) (*kafka.Message, error) {
	delivered := make(chan kafka.Event, 1)
	err := q.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
		Headers:        headers,
	}, delivered)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case e := <-delivered:
		m, ok := e.(*kafka.Message)
		if !ok {
			return nil, fmt.Errorf("unexpected delivery event: %v", e)
		}
		if m.TopicPartition.Error != nil {
			return nil, m.TopicPartition.Error
		}
		return m, nil
	}
}

func (q *KafkaQueue) Consume(ctx context.Context, batchSize int, handler domain.BatchHandler) error {
	if q.consumer == nil {
		return errors.New("kafka queue has no consumer group configured")
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	for ctx.Err() == nil {
		q.resumeDue(time.Now())
		batch := q.poll(batchSize)
		if len(batch) == 0 {
			continue
		}

		items, msgs := q.ledger.admit(batch)
		if len(items) > 0 {
			res, err := handler(ctx, items)
			if err != nil {
				q.logger.Warn("batch handler failed; rewinding", "items", len(items), "err", err)
			} else {
				for _, i := range q.ledger.record(items, res, q.maxDeliveries) {
					if err := q.deadLetter(ctx, msgs[i], items[i].ReceiveCount); err != nil {
						q.logger.Error("dead letter failed", "id", items[i].ItemID, "err", err)
						continue
					}
					q.ledger.markDone(items[i].ItemID)
				}
			}
		}

		commit, retry := q.ledger.settle(batch)
		q.hold(retry)
		if _, err := q.consumer.CommitOffsets(commit); err != nil {
			q.logger.Error("commit failed", "err", err)
		}
	}
	return nil
}

func (q *KafkaQueue) poll(n int) []*kafka.Message {
	deadline := time.Now().Add(q.pollTimeout)
	var out []*kafka.Message
	for len(out) < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		m, err := q.consumer.ReadMessage(remaining)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
				break
			}
			q.logger.Warn("kafka read failed", "err", err)
			break
		}
		out = append(out, m)
	}
	return out
}

func (q *KafkaQueue) deadLetter(ctx context.Context, m *kafka.Message, deliveries int) error {
	dedupKey := kafkaHeader(m.Headers, headerDedupKey)
	if _, err := q.produce(ctx, q.cfg.DeadTopic, string(m.Key), m.Value, kafkaHeaders(dedupKey, deliveries)); err != nil {
		return err
	}
	q.logger.Warn("message moved to dead letters", "id", kafkaItemID(m), "topic", q.cfg.DeadTopic)
	return nil
}

// hold volta cada partição ao offset indicado e a pausa pelo visibility timeout.
func (q *KafkaQueue) hold(tps []kafka.TopicPartition) {
	if len(tps) == 0 {
		return
	}
	if err := q.consumer.Pause(tps); err != nil {
		q.logger.Error("pause failed", "err", err)
	}
	until := time.Now().Add(q.visibility)
	for _, tp := range tps {
		if err := q.consumer.Seek(tp, 1000); err != nil {
			q.logger.Error("seek failed", "partition", tp.Partition, "err", err)
		}
		q.paused[topicPartition{*tp.Topic, tp.Partition}] = until
	}
}

func (q *KafkaQueue) resumeDue(now time.Time) {
	var due []kafka.TopicPartition
	for k, until := range q.paused {
		if now.Before(until) {
			continue
		}
		topic := k.topic
		due = append(due, kafka.TopicPartition{Topic: &topic, Partition: k.partition})
		delete(q.paused, k)
	}
	if len(due) == 0 {
		return
	}
	if err := q.consumer.Resume(due); err != nil {
		q.logger.Error("resume failed", "err", err)
	}
}

func (q *KafkaQueue) Close() {
	if q.consumer != nil {
		q.consumer.Close()
	}
	q.producer.Flush(5000)
	q.producer.Close()
}

func kafkaHeaders(dedupKey string, deliveries int) []kafka.Header {
	return []kafka.Header{
		{Key: headerDedupKey, Value: []byte(dedupKey)},
		{Key: headerReceiveCount, Value: []byte(strconv.Itoa(deliveries))},
	}
}

func kafkaHeader(hs []kafka.Header, key string) string {
	for _, h := range hs {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func kafkaItemID(m *kafka.Message) string {
	topic := ""
	if m.TopicPartition.Topic != nil {
		topic = *m.TopicPartition.Topic
	}
	return fmt.Sprintf("%s/%d/%d", topic, m.TopicPartition.Partition, int64(m.TopicPartition.Offset))
}

type topicPartition struct {
	topic     string
	partition int32
}

// kafkaLedger acompanha as entregas de cada offset e os itens já resolvidos
// que estão depois de uma falha ainda não confirmada na mesma partição.
type kafkaLedger struct {
	deliveries map[string]int
	done       map[string]bool
}

func newKafkaLedger() *kafkaLedger {
	return &kafkaLedger{deliveries: make(map[string]int), done: make(map[string]bool)}
}

// admit converte o lote em itens, pulando os offsets já resolvidos. msgs[i]
// é a mensagem de items[i].
func (l *kafkaLedger) admit(batch []*kafka.Message) (items []domain.DeliveredItem, msgs []*kafka.Message) {
	for _, m := range batch {
		id := kafkaItemID(m)
		if l.done[id] {
			continue
		}
		l.deliveries[id]++
		items = append(items, domain.DeliveredItem{
			ItemID:       id,
			Body:         m.Value,
			GroupKey:     string(m.Key),
			ReceiveCount: l.deliveries[id],
		})
		msgs = append(msgs, m)
	}
	return items, msgs
}

// record marca os sucessos e devolve os índices dos falhos que esgotaram as entregas.
func (l *kafkaLedger) record(items []domain.DeliveredItem, res domain.BatchResult, maxDeliveries int) []int {
	failed := res.FailedIDs()
	var exhausted []int
	for i, it := range items {
		if _, isFailed := failed[it.ItemID]; !isFailed {
			l.done[it.ItemID] = true
			continue
		}
		if maxDeliveries > 0 && it.ReceiveCount >= maxDeliveries {
			exhausted = append(exhausted, i)
		}
	}
	return exhausted
}

func (l *kafkaLedger) markDone(id string) { l.done[id] = true }

// settle devolve, por partição, o offset a confirmar: o primeiro ainda não
// resolvido ou o seguinte ao maior do lote. Partições com item pendente
// também voltam em retry para esse offset. O que fica abaixo do commit é esquecido.
func (l *kafkaLedger) settle(batch []*kafka.Message) (commit, retry []kafka.TopicPartition) {
	byPartition := make(map[topicPartition][]*kafka.Message)
	var order []topicPartition
	for _, m := range batch {
		if m.TopicPartition.Topic == nil {
			continue
		}
		k := topicPartition{*m.TopicPartition.Topic, m.TopicPartition.Partition}
		if _, ok := byPartition[k]; !ok {
			order = append(order, k)
		}
		byPartition[k] = append(byPartition[k], m)
	}

	for _, k := range order {
		msgs := byPartition[k]
		sort.Slice(msgs, func(i, j int) bool { return msgs[i].TopicPartition.Offset < msgs[j].TopicPartition.Offset })

		next := msgs[len(msgs)-1].TopicPartition.Offset + 1
		pending := false
		for _, m := range msgs {
			if !l.done[kafkaItemID(m)] {
				next, pending = m.TopicPartition.Offset, true
				break
			}
		}

		topic := k.topic
		tp := kafka.TopicPartition{Topic: &topic, Partition: k.partition, Offset: next}
		commit = append(commit, tp)
		if pending {
			retry = append(retry, tp)
		}
		for _, m := range msgs {
			if m.TopicPartition.Offset < next {
				id := kafkaItemID(m)
				delete(l.done, id)
				delete(l.deliveries, id)
			}
		}
	}
	return commit, retry
}
