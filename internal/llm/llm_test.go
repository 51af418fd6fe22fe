package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty", "", nil},
		{"dashes", "- first\n- second", []string{"first", "second"}},
		{"numbers", "1. one\n2) two\n\n3. three", []string{"one", "two", "three"}},
		{"bullets and blanks", "• a\n   \n* b", []string{"a", "b"}},
		{"plain", "just text", []string{"just text"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitList(tt.raw)
			if len(got) != len(tt.want) {
				t.Fatalf("SplitList() = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("item %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestNewRequiresKeyAndModel(t *testing.T) {
	if _, err := New("", "", "m"); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := New("", "k", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestComplete(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","model":"test",
			"choices":[{"index":0,"message":{"role":"assistant","content":"  hello  "},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/v1", "key", "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := c.Complete(context.Background(), "sys", "usr", 0.5)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "hello" {
		t.Errorf("Complete() = %q, want 'hello'", out)
	}
	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages in request, got %d", len(msgs))
	}
}

func TestCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","model":"test","choices":[]}`))
	}))
	defer srv.Close()

	c, _ := New(srv.URL+"/v1", "key", "test")
	if _, err := c.Complete(context.Background(), "s", "u", 0); err != ErrNoChoices {
		t.Errorf("expected ErrNoChoices, got %v", err)
	}
}
