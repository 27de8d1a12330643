// Package booking fornece os adapters HTTP (net/http) do gateway de reservas.
//
// Visão geral (camadas):
//
//   - domain: tipos e contratos (sem dependência de net/http)
//   - application: casos de uso (gateway, processor, throttle, concorrência)
//   - infra: filas, contadores, object stores, token bucket, semáforo
//   - booking (este pacote): handler HTTP + CORS, middlewares, stream de stats via websocket
//
// Fluxo no gateway:
//
//  1. Middlewares de concorrência e throttle decidem se a requisição entra
//  2. NewHandler lê o corpo e chama application.Gateway.Handle
//  3. A resposta é sempre JSON com headers CORS
package booking
