package endpoint

import (
	"encoding/json"
	"net/http"
)

// JSONRenderer writes Value as a JSON document.
//
// Status defaults to 200. HTML escaping is disabled so that values such as
// tool output round-trip unchanged. The encoder appends a trailing newline.
type JSONRenderer struct {
	Status int
	Value  any
}

func (jr *JSONRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json")

	status := jr.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(jr.Value)
}
