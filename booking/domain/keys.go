package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"unicode/utf8"
)

const (
	DefaultTripID     = "defaultTrip"
	DefaultSeatNo     = "defaultSeat"
	GroupKeySeparator = "#"

	// MaxDedupKeyLength é o limite de tamanho do id de deduplicação da fila.
	MaxDedupKeyLength = 128
)

// GroupKey define o domínio de ordenação e paralelismo: mensagens do mesmo
// trip+assento são entregues na ordem de envio; assentos diferentes rodam em paralelo.
func GroupKey(r BookingRequest) string {
	trip, ok := r.TripID()
	if !ok {
		trip = DefaultTripID
	}
	seat, ok := r.SeatNo()
	if !ok {
		seat = DefaultSeatNo
	}
	return trip + GroupKeySeparator + seat
}

// DedupKey usa o requestId do cliente (truncado) quando existir; caso contrário,
// o SHA-256 hex da serialização canônica do payload inteiro.
func DedupKey(r BookingRequest) (string, error) {
	if id, ok := r.RequestID(); ok {
		return truncateRunes(id, MaxDedupKeyLength), nil
	}

	blob, err := r.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
