package booking

import (
	"encoding/json"
	"io"
	"net/http"

	"bus-booking/booking/application"
)

// MaxBodyBytes limita o corpo aceito em POST /api/book-bus.
const MaxBodyBytes = 1 << 20

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	h.Set("Access-Control-Allow-Headers", "content-type")
	h.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	setCORS(w.Header())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// NewHandler expõe o Gateway via net/http. Toda resposta leva os headers CORS.
func NewHandler(gw *application.Gateway) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, application.ErrorBody{Error: err.Error()})
				return
			}
			body = b
		}

		res := gw.Handle(r.Context(), application.Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Body:   body,
		})
		writeJSON(w, res.Status, res.Body)
	})
}
