// Package domain define contratos e tipos de domínio do pipeline de reservas:
// requisição de reserva, mensagem de fila, item entregue, contadores e resultado de lote.
//
// Este pacote não depende de net/http nem de implementações concretas
// (Redis, SQLite, Kafka, sistema de arquivos). Fila, contadores, armazenamento de
// objetos e fulfillment aparecem aqui apenas como interfaces (capacidades).
package domain
