package pkg

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func streamServer(t *testing.T, chunks []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestCompleteAccumulatesStream(t *testing.T) {
	srv := streamServer(t, []string{"Hel", "lo ", "there"})
	defer srv.Close()

	client := NewChatClient(srv.URL, "test-key")
	var deltas []string
	got, err := client.Complete(context.Background(), "test-model",
		[]RequestMessage{{Role: "user", Content: "hi"}},
		func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "Hello there" {
		t.Fatalf("accumulated %q, want %q", got, "Hello there")
	}
	if len(deltas) != 3 {
		t.Fatalf("got %d deltas, want 3", len(deltas))
	}
}

func TestCompleteEmptyReply(t *testing.T) {
	srv := streamServer(t, nil)
	defer srv.Close()

	client := NewChatClient(srv.URL, "test-key")
	_, err := client.Complete(context.Background(), "test-model",
		[]RequestMessage{{Role: "user", Content: "hi"}}, nil)
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestCompleteRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewChatClient(srv.URL, "test-key")
	_, err := client.Complete(context.Background(), "test-model", nil, nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestCompleteProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewChatClient(srv.URL, "test-key")
	_, err := client.Complete(context.Background(), "test-model", nil, nil)
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

func TestCompleteDeadline(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	client := NewChatClient(srv.URL, "test-key")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.Complete(ctx, "test-model", nil, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestCreateChatCompletionNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"cmpl-1","choices":[{"message":{"role":"assistant","content":"hi"}}]}`)
	}))
	defer srv.Close()

	client := NewChatClient(srv.URL, "test-key")
	resp, err := client.CreateChatCompletion(context.Background(), ChatCompletionRequest{
		Model:    "test-model",
		Messages: []RequestMessage{{Role: "user", Content: "hey"}},
	})
	if err != nil {
		t.Fatalf("CreateChatCompletion failed: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "hi" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
