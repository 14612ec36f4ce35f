package cmd

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ticketflow/pkg/api"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// fakeAPI serves canned responses keyed by "METHOD path" and records requests.
type fakeAPI struct {
	t         *testing.T
	responses map[string]any
	status    int
	requests  []*http.Request
	bodies    []string
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	f := &fakeAPI{t: t, responses: map[string]any{}, status: http.StatusOK}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("expected Bearer token, got: %s", r.Header.Get("Authorization"))
		}
		body, _ := io.ReadAll(r.Body)
		f.requests = append(f.requests, r)
		f.bodies = append(f.bodies, string(body))

		resp, ok := f.responses[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Ticket not found", Code: "404"})
			return
		}
		w.WriteHeader(f.status)
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)

	resetViper()
	viper.Set("url", server.URL)
	viper.Set("token", "test-token")
	return f, server
}

func TestTriggerCommand_Success(t *testing.T) {
	f, _ := newFakeAPI(t)
	f.status = http.StatusAccepted
	f.responses["POST /tickets"] = api.TriggerResponse{
		TicketID:    "ticket-1",
		ExecutionID: "exec-1",
		State:       "triggered",
		Created:     true,
	}

	out := execute(t, "trigger", "--key", "PROJ-1", "--repo", "acme/api", "--title", "Add login",
		"--workflow", "refinement", "--message", `{"hint":"oauth"}`)

	if !strings.Contains(out, "Ticket created") || !strings.Contains(out, "exec-1") {
		t.Errorf("unexpected output: %s", out)
	}

	var sent api.TriggerRequest
	if err := json.Unmarshal([]byte(f.bodies[0]), &sent); err != nil {
		t.Fatalf("failed to decode request: %v", err)
	}
	if sent.Key != "PROJ-1" || sent.WorkflowType != "refinement" || sent.RepositoryID != "acme/api" {
		t.Errorf("unexpected request: %+v", sent)
	}
	if string(sent.Message) != `{"hint":"oauth"}` {
		t.Errorf("unexpected message: %s", sent.Message)
	}
}

func TestTriggerCommand_Validation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing key", []string{"trigger", "--workflow", "refinement"}, "--key is required"},
		{"missing workflow", []string{"trigger", "--key", "PROJ-1"}, "--workflow is required"},
		{"bad message", []string{"trigger", "--key", "PROJ-1", "--workflow", "x", "--message", "{"}, "valid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := newFakeAPI(t)
			out := execute(t, tt.args...)
			if !strings.Contains(out, tt.want) {
				t.Errorf("expected %q in output, got: %s", tt.want, out)
			}
			if len(f.requests) != 0 {
				t.Errorf("expected no request, got %d", len(f.requests))
			}
		})
	}
}

func TestTriggerCommand_APIError(t *testing.T) {
	f, _ := newFakeAPI(t)
	f.status = http.StatusConflict
	f.responses["POST /tickets"] = api.ErrorResponse{Error: "Ticket is already closed", Code: "409"}

	out := execute(t, "trigger", "--key", "PROJ-1", "--workflow", "refinement")
	if !strings.Contains(out, "Error (409): Ticket is already closed") {
		t.Errorf("unexpected output: %s", out)
	}
}

func statusFixture(f *fakeAPI) {
	lastErr := "executor unavailable"
	created := time.Now().Add(-2 * time.Hour)
	f.responses["GET /tickets/ticket-1"] = api.TicketResponse{
		ID:         "ticket-1",
		Key:        "PROJ-1",
		Title:      "Add login",
		State:      "awaiting_answers",
		RetryCount: 1,
		LastError:  &lastErr,
		CreatedAt:  created,
		UpdatedAt:  created.Add(time.Hour),
		Suspension: &api.SuspensionResponse{
			GraphID:     "clarification",
			AgentName:   "clarifier",
			SuspendedAt: created.Add(time.Hour),
		},
	}
	f.responses["GET /tickets/ticket-1/executions"] = api.ListExecutionsResponse{
		Executions: []api.ExecutionResponse{
			{ID: "exec-1", TicketID: "ticket-1", WorkflowType: "refinement", Status: "completed", CreatedAt: created},
		},
	}
}

func TestStatusCommand_Table(t *testing.T) {
	f, _ := newFakeAPI(t)
	statusFixture(f)

	out := execute(t, "status", "ticket-1")

	for _, want := range []string{"PROJ-1", "awaiting_answers", "executor unavailable", "clarification", "clarifier", "waiting for a message", "exec-1", "refinement"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output, got: %s", want, out)
		}
	}
}

func TestStatusCommand_YAML(t *testing.T) {
	f, _ := newFakeAPI(t)
	statusFixture(f)

	out := execute(t, "status", "ticket-1", "-o", "yaml")

	var decoded map[string]any
	if err := yaml.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, out)
	}
	ticket, ok := decoded["ticket"].(map[string]any)
	if !ok || ticket["key"] != "PROJ-1" {
		t.Errorf("unexpected YAML: %s", out)
	}
}

func TestStatusCommand_NotFound(t *testing.T) {
	newFakeAPI(t)

	out := execute(t, "status", "missing")
	if !strings.Contains(out, "Error (404): Ticket not found") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestResumeAndCancelCommands(t *testing.T) {
	f, _ := newFakeAPI(t)
	f.responses["POST /tickets/ticket-1/resume"] = map[string]string{"status": "accepted"}
	f.responses["POST /tickets/ticket-1/cancel"] = api.TicketResponse{ID: "ticket-1", State: "cancelled"}

	out := execute(t, "resume", "ticket-1", "--message", "use OAuth")
	if !strings.Contains(out, "Resume message delivered") {
		t.Errorf("unexpected output: %s", out)
	}
	if !strings.Contains(f.bodies[0], `"message":"use OAuth"`) {
		t.Errorf("unexpected resume body: %s", f.bodies[0])
	}

	out = execute(t, "resume", "ticket-1")
	if !strings.Contains(out, "--message is required") {
		t.Errorf("unexpected output: %s", out)
	}

	out = execute(t, "cancel", "ticket-1", "--reason", "duplicate")
	if !strings.Contains(out, "ticket-1 is cancelled") {
		t.Errorf("unexpected output: %s", out)
	}
	if !strings.Contains(f.bodies[len(f.bodies)-1], `"reason":"duplicate"`) {
		t.Errorf("unexpected cancel body: %s", f.bodies[len(f.bodies)-1])
	}
}

func TestEventsCommand(t *testing.T) {
	f, _ := newFakeAPI(t)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f.responses["GET /events"] = api.EventsResponse{
		Events: []api.EventResponse{
			{ID: "e2", TicketID: "ticket-1", Kind: "workflow_suspended", OccurredAt: at.Add(time.Minute), Payload: json.RawMessage(`{"graph_id":"clarification"}`)},
			{ID: "e1", TicketID: "ticket-1", Kind: "state_changed", OccurredAt: at, Payload: json.RawMessage(`{"from":"triggered","to":"analyzing"}`)},
		},
		Total: 2,
		Limit: 50,
	}

	out := execute(t, "events", "ticket-1", "--kind", "state_changed,workflow_suspended", "--from", "2025-03-01T00:00:00Z", "--limit", "10")

	if !strings.Contains(out, "workflow_suspended") || !strings.Contains(out, `"to":"analyzing"`) {
		t.Errorf("unexpected output: %s", out)
	}
	q := f.requests[0].URL.Query()
	if q.Get("ticket_id") != "ticket-1" || q.Get("kind") != "state_changed,workflow_suspended" ||
		q.Get("from") != "2025-03-01T00:00:00Z" || q.Get("limit") != "10" {
		t.Errorf("unexpected query: %v", q)
	}

	out = execute(t, "events", "-o", "json")
	var decoded api.EventsResponse
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if decoded.Total != 2 || decoded.Events[0].ID != "e2" {
		t.Errorf("unexpected JSON: %s", out)
	}

	out = execute(t, "events", "-o", "xml")
	if !strings.Contains(out, "unknown output format") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestStatsCommand(t *testing.T) {
	f, _ := newFakeAPI(t)
	f.responses["GET /events/stats"] = api.StatsResponse{
		EventsByKind:       map[string]int64{"state_changed": 12, "workflow_failed": 1},
		PendingExecutions:  3,
		ResumableWorkflows: 2,
	}

	out := execute(t, "stats")
	for _, want := range []string{"Pending executions", "3", "Resumable workflows", "state_changed", "12", "workflow_failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output, got: %s", want, out)
		}
	}

	out = execute(t, "stats", "-o", "yaml")
	if !strings.Contains(out, "pending_executions: 3") {
		t.Errorf("unexpected YAML: %s", out)
	}
}

func TestCreateTenantCommand(t *testing.T) {
	f, _ := newFakeAPI(t)
	f.status = http.StatusCreated
	f.responses["POST /tenants"] = api.CreateTenantResponse{ID: "tenant-1", Name: "acme", ApiKey: "tf_secret"}

	out := execute(t, "create-tenant", "--name", "acme", "--rate-limit", "5", "--burst", "10")
	if !strings.Contains(out, "tf_secret") {
		t.Errorf("unexpected output: %s", out)
	}
	if !strings.Contains(f.bodies[0], `"rate_limit":5`) || !strings.Contains(f.bodies[0], `"rate_limit_burst":10`) {
		t.Errorf("unexpected body: %s", f.bodies[0])
	}
}
