package genai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testClient(srv *httptest.Server) *Client {
	c := New("test-key", Config{
		Model:           "gemini-2.0-flash",
		Temperature:     0.7,
		TopP:            0.9,
		TopK:            40,
		MaxOutputTokens: 2048,
		Safety: map[string]string{
			"HARM_CATEGORY_HARASSMENT": "BLOCK_NONE",
		},
	})
	c.BaseURL = srv.URL
	c.HTTP = srv.Client()
	return c
}

func TestGenerate_Success(t *testing.T) {
	var gotBody generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &gotBody); err != nil {
			t.Errorf("unmarshal request: %v", err)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("key = %q", r.URL.Query().Get("key"))
		}
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"Hello "},{"text":"there"}]},"finishReason":"STOP"}]}`)
	}))
	defer srv.Close()

	text, err := testClient(srv).Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "Hello there" {
		t.Errorf("text = %q", text)
	}
	if len(gotBody.Contents) != 1 || gotBody.Contents[0].Parts[0].Text != "hi" {
		t.Errorf("request contents = %+v", gotBody.Contents)
	}
	if gotBody.GenerationConfig.Temperature != 0.7 || gotBody.GenerationConfig.TopK != 40 {
		t.Errorf("generation config = %+v", gotBody.GenerationConfig)
	}
	if len(gotBody.SafetySettings) != 1 || gotBody.SafetySettings[0].Threshold != "BLOCK_NONE" {
		t.Errorf("safety settings = %+v", gotBody.SafetySettings)
	}
}

func TestGenerate_NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	_, err := testClient(srv).Generate(context.Background(), "hi")
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("err = %v, want ErrNoContent", err)
	}
}

func TestGenerate_EmptyText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":""}]}}]}`)
	}))
	defer srv.Close()

	_, err := testClient(srv).Generate(context.Background(), "hi")
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("err = %v, want ErrNoContent", err)
	}
}

func TestGenerate_QuotaIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`)
	}))
	defer srv.Close()

	_, err := testClient(srv).Generate(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransient(err) {
		t.Errorf("429 should be transient, got %v", err)
	}
	var ge *Error
	if !errors.As(err, &ge) || ge.Message != "quota exceeded" {
		t.Errorf("err = %v", err)
	}
}

func TestGenerate_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":{"code":500,"message":"internal"}}`)
	}))
	defer srv.Close()

	_, err := testClient(srv).Generate(context.Background(), "hi")
	if !IsTransient(err) {
		t.Errorf("500 should be transient, got %v", err)
	}
}

func TestGenerate_AuthIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"error":{"code":403,"message":"API key invalid","status":"PERMISSION_DENIED"}}`)
	}))
	defer srv.Close()

	_, err := testClient(srv).Generate(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Errorf("403 should be terminal, got %v", err)
	}
}

func TestGenerate_SafetyBlockIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`)
	}))
	defer srv.Close()

	_, err := testClient(srv).Generate(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Errorf("safety block should be terminal, got %v", err)
	}
	if errors.Is(err, ErrNoContent) {
		t.Error("safety block should not be ErrNoContent")
	}
}

func TestGenerate_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := testClient(srv)
	c.HTTP = http.DefaultClient
	_, err := c.Generate(context.Background(), "hi")
	if !IsTransient(err) {
		t.Errorf("connection refused should be transient, got %v", err)
	}
}

func TestSafetySettings_StableOrder(t *testing.T) {
	m := map[string]string{
		"HARM_CATEGORY_SEXUALLY_EXPLICIT": "BLOCK_NONE",
		"HARM_CATEGORY_DANGEROUS_CONTENT": "BLOCK_NONE",
		"HARM_CATEGORY_HARASSMENT":        "BLOCK_NONE",
	}
	first := safetySettings(m)
	for i := 0; i < 10; i++ {
		again := safetySettings(m)
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("order not stable: %+v vs %+v", first, again)
			}
		}
	}
}
