package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"
)

// Campos de roteamento extraídos do payload. O resto é repassado sem alteração.
const (
	FieldRequestID = "requestId"
	FieldTripID    = "tripId"
	FieldSeatNo    = "seatNo"
)

var (
	ErrNotObject     = errors.New("booking request must be a JSON object")
	ErrTrailingBytes = errors.New("unexpected data after booking request")
)

// BookingRequest é o documento enviado pelo cliente.
//
// Não há schema: só requestId, tripId e seatNo são lidos (com defaults),
// o restante é opaco e segue intacto até o fulfillment.
type BookingRequest map[string]any

// ParseBookingRequest decodifica um objeto JSON. Números ficam como json.Number
// para que a serialização canônica preserve o texto original.
func ParseBookingRequest(raw []byte) (BookingRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode booking request: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, ErrTrailingBytes
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return BookingRequest(obj), nil
}

// Canonical serializa com chaves ordenadas, sem espaços e sem escape de HTML.
// Dois documentos iguais (independente da ordem das chaves) geram os mesmos bytes.
// Tudo fora do ASCII imprimível sai como \uXXXX (pares substitutos acima do BMP),
// a mesma forma do json.dumps padrão do Python, então o digest bate entre os dois.
func (r BookingRequest) Canonical() ([]byte, error) {
	doc := map[string]any(r)
	if doc == nil {
		doc = map[string]any{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode booking request: %w", err)
	}
	return escapeNonASCII(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

const hexDigits = "0123456789abcdef"

// escapeNonASCII só encontra bytes >= 0x7f dentro de strings, já que o resto
// do JSON gerado é ASCII.
func escapeNonASCII(b []byte) []byte {
	i := 0
	for i < len(b) && b[i] < utf8.RuneSelf-1 {
		i++
	}
	if i == len(b) {
		return b
	}

	out := make([]byte, i, len(b)+16)
	copy(out, b[:i])
	for i < len(b) {
		c := b[i]
		if c < utf8.RuneSelf-1 {
			out = append(out, c)
			i++
			continue
		}
		r, size := utf8.DecodeRune(b[i:])
		i += size
		if r > 0xffff {
			hi, lo := utf16.EncodeRune(r)
			out = appendUnicodeEscape(out, hi)
			out = appendUnicodeEscape(out, lo)
			continue
		}
		out = appendUnicodeEscape(out, r)
	}
	return out
}

func appendUnicodeEscape(out []byte, r rune) []byte {
	return append(out, '\\', 'u',
		hexDigits[r>>12&0xf], hexDigits[r>>8&0xf], hexDigits[r>>4&0xf], hexDigits[r&0xf])
}

func (r BookingRequest) RequestID() (string, bool) {
	v, ok := r[FieldRequestID]
	if !ok || !truthy(v) {
		return "", false
	}
	return textOf(v), true
}

func (r BookingRequest) TripID() (string, bool) { return r.text(FieldTripID) }

func (r BookingRequest) SeatNo() (string, bool) { return r.text(FieldSeatNo) }

func (r BookingRequest) text(name string) (string, bool) {
	v, ok := r[name]
	if !ok || v == nil {
		return "", false
	}
	return textOf(v), true
}

func textOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// truthy: "", 0, false, null e coleções vazias não contam como requestId.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	}
	return true
}
