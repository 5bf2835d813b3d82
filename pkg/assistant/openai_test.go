package assistant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

const requiresActionRun = `{
	"id": "run_1",
	"object": "thread.run",
	"thread_id": "thread_1",
	"status": "requires_action",
	"required_action": {
		"type": "submit_tool_outputs",
		"submit_tool_outputs": {
			"tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "assignRole", "arguments": "{\"personName\":\"Alice\",\"roleName\":\"Admin\"}"}},
				{"id": "call_2", "type": "function", "function": {"name": "assignRole", "arguments": "{\"personName\":\"Bob\",\"roleName\":\"\"}"}}
			]
		}
	},
	"last_error": null
}`

const failedRun = `{
	"id": "run_1",
	"object": "thread.run",
	"status": "failed",
	"last_error": {"code": "server_error", "message": "boom"}
}`

type recordedRequest struct {
	method string
	path   string
	beta   string
	body   []byte
}

func newOpenAITestServer(t *testing.T, routes map[string]string) (*OpenAIProvider, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var requests []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, recordedRequest{r.Method, r.URL.Path, r.Header.Get("OpenAI-Beta"), body})
		mu.Unlock()
		resp, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			http.Error(w, `{"error":{"message":"not found"}}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)
	provider := NewOpenAIProvider("sk-test", srv.URL+"/v1", zerolog.Nop())
	return provider, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), requests...)
	}
}

func TestOpenAIGetRunConvertsToolCalls(t *testing.T) {
	provider, requests := newOpenAITestServer(t, map[string]string{
		"GET /v1/threads/thread_1/runs/run_1": requiresActionRun,
	})

	run, err := provider.GetRun(context.Background(), "thread_1", "run_1")
	if err != nil {
		t.Fatalf("GetRun returned error: %v", err)
	}
	if run.ID != "run_1" || run.Status != RunStatusRequiresAction {
		t.Fatalf("unexpected run: %#v", run)
	}
	want := []ToolCall{
		{ID: "call_1", Name: ToolAssignRole, Arguments: `{"personName":"Alice","roleName":"Admin"}`},
		{ID: "call_2", Name: ToolAssignRole, Arguments: `{"personName":"Bob","roleName":""}`},
	}
	if len(run.ToolCalls) != len(want) {
		t.Fatalf("expected %d tool calls, got %#v", len(want), run.ToolCalls)
	}
	for i := range want {
		if run.ToolCalls[i] != want[i] {
			t.Fatalf("tool call %d: expected %#v, got %#v", i, want[i], run.ToolCalls[i])
		}
	}
	if reqs := requests(); len(reqs) != 1 || reqs[0].beta != "assistants=v2" {
		t.Fatalf("expected one beta request, got %#v", reqs)
	}
}

func TestOpenAIGetRunFailedCarriesLastError(t *testing.T) {
	provider, _ := newOpenAITestServer(t, map[string]string{
		"GET /v1/threads/thread_1/runs/run_1": failedRun,
	})

	run, err := provider.GetRun(context.Background(), "thread_1", "run_1")
	if err != nil {
		t.Fatalf("GetRun returned error: %v", err)
	}
	if run.Status != RunStatusFailed || run.ErrorCode != "server_error" || run.ErrorMessage != "boom" {
		t.Fatalf("unexpected run: %#v", run)
	}
	if len(run.ToolCalls) != 0 {
		t.Fatalf("expected no tool calls, got %#v", run.ToolCalls)
	}
}

func TestOpenAISubmitToolOutputs(t *testing.T) {
	provider, requests := newOpenAITestServer(t, map[string]string{
		"POST /v1/threads/thread_1/runs/run_1/submit_tool_outputs": `{"id": "run_1", "object": "thread.run", "status": "queued"}`,
	})

	run, err := provider.SubmitToolOutputs(context.Background(), "thread_1", "run_1", []ToolOutput{
		{ToolCallID: "call_1", Output: "Assigned Alice the role Admin"},
		{ToolCallID: "call_2", Output: "Asked the room which role to give Bob"},
	})
	if err != nil {
		t.Fatalf("SubmitToolOutputs returned error: %v", err)
	}
	if run.Status != RunStatusQueued {
		t.Fatalf("unexpected run: %#v", run)
	}
	reqs := requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one request, got %d", len(reqs))
	}
	var body struct {
		ToolOutputs []struct {
			ToolCallID string `json:"tool_call_id"`
			Output     string `json:"output"`
		} `json:"tool_outputs"`
	}
	if err = json.Unmarshal(reqs[0].body, &body); err != nil {
		t.Fatalf("failed to decode request body %q: %v", reqs[0].body, err)
	}
	if len(body.ToolOutputs) != 2 || body.ToolOutputs[0].ToolCallID != "call_1" ||
		body.ToolOutputs[1].Output != "Asked the room which role to give Bob" {
		t.Fatalf("unexpected tool outputs: %#v", body.ToolOutputs)
	}
}

func TestOpenAICancelRun(t *testing.T) {
	provider, requests := newOpenAITestServer(t, map[string]string{
		"POST /v1/threads/thread_1/runs/run_1/cancel": `{"id": "run_1", "object": "thread.run", "status": "cancelling"}`,
	})

	if err := provider.CancelRun(context.Background(), "thread_1", "run_1"); err != nil {
		t.Fatalf("CancelRun returned error: %v", err)
	}
	if reqs := requests(); len(reqs) != 1 || reqs[0].method != http.MethodPost {
		t.Fatalf("expected one POST, got %#v", reqs)
	}
}

func TestOpenAILatestAssistantMessage(t *testing.T) {
	tests := []struct {
		name     string
		list     string
		wantOK   bool
		wantID   string
		wantText string
		wantHas  bool
	}{
		{
			name: "skips user messages",
			list: `{"object": "list", "has_more": false, "data": [
				{"id": "msg_u", "object": "thread.message", "role": "user", "content": [{"type": "text", "text": {"value": "hi", "annotations": []}}]},
				{"id": "msg_a", "object": "thread.message", "role": "assistant", "content": [{"type": "text", "text": {"value": "Hello room", "annotations": []}}]}
			]}`,
			wantOK:   true,
			wantID:   "msg_a",
			wantText: "Hello room",
			wantHas:  true,
		},
		{
			name: "first block is an image",
			list: `{"object": "list", "has_more": false, "data": [
				{"id": "msg_a", "object": "thread.message", "role": "assistant", "content": [
					{"type": "image_file", "image_file": {"file_id": "file_1"}},
					{"type": "text", "text": {"value": "caption", "annotations": []}}
				]}
			]}`,
			wantOK: true,
			wantID: "msg_a",
		},
		{
			name: "no assistant message",
			list: `{"object": "list", "has_more": false, "data": [
				{"id": "msg_u", "object": "thread.message", "role": "user", "content": [{"type": "text", "text": {"value": "hi", "annotations": []}}]}
			]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, _ := newOpenAITestServer(t, map[string]string{
				"GET /v1/threads/thread_1/messages": tt.list,
			})
			msg, ok, err := provider.LatestAssistantMessage(context.Background(), "thread_1")
			if err != nil {
				t.Fatalf("LatestAssistantMessage returned error: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if msg.ID != tt.wantID || msg.Text != tt.wantText || msg.HasText != tt.wantHas {
				t.Fatalf("unexpected message: %#v", msg)
			}
		})
	}
}
