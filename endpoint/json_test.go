package endpoint

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestJSONRenderer(t *testing.T) {
	t.Run("default status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		err := (&JSONRenderer{Value: map[string]string{"html": "<b>&</b>"}}).Render(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if err != nil {
			t.Fatal(err)
		}
		if rec.Code != http.StatusOK {
			t.Errorf("status: got %d", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type: got %q", ct)
		}
		if got, want := rec.Body.String(), "{\"html\":\"<b>&</b>\"}\n"; got != want {
			t.Errorf("body: got %q, want %q", got, want)
		}
	})

	t.Run("explicit status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		(&JSONRenderer{Status: http.StatusCreated, Value: []int{1}}).Render(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusCreated {
			t.Errorf("status: got %d", rec.Code)
		}
	})
}
