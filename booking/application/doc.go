// Package application contém os casos de uso do pipeline de reservas.
//
// Ele depende apenas do pacote domain e não conhece net/http nem lojas concretas.
// Ex.: Gateway.Handle(req) aplica a tabela de rotas e o protocolo de enfileiramento;
// BatchProcessor.Process(items) classifica cada item, acumula contadores e publica o snapshot.
package application
