// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - contadores: MemoryCounterStore, RedisCounterStore (HINCRBY em MULTI), SQLiteCounterStore (upsert)
//   - filas: MemoryQueue, RedisQueue (stream + empréstimos por id), KafkaQueue (seek no offset falho)
//   - objetos: MemoryObjectStore, FileObjectStore, RedisObjectStore
//   - TokenBuckets: token bucket por cliente ou por assento usando golang.org/x/time/rate
//   - ChanPool: semáforo simples para limite de concorrência
package infra
