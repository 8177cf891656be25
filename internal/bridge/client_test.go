package bridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPostActionSendsExpectedEnvelope(t *testing.T) {
	var mu sync.Mutex
	var gotAction string
	var gotSecret string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env ActionEvent
		json.NewDecoder(r.Body).Decode(&env)
		mu.Lock()
		gotAction = env.Action
		gotSecret = r.Header.Get("x-bridge-secret")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "s3cr3t", zap.NewNop())
	c.PostAction("BootNotification", map[string]string{"vendor": "ACME"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := gotAction
		mu.Unlock()
		if got != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotAction != "BootNotification" {
		t.Errorf("action = %q, want BootNotification", gotAction)
	}
	if gotSecret != "s3cr3t" {
		t.Errorf("secret header = %q, want s3cr3t", gotSecret)
	}
}

func TestEmptyURLIsNoOp(t *testing.T) {
	c := New("", "", zap.NewNop())
	c.PostAction("Heartbeat", nil) // must not panic or block
}
