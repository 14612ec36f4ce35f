package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freezeClock(t *testing.T, at time.Time) {
	t.Helper()
	old := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = old })
}

func newTestTicket() *Ticket {
	return NewTicket(uuid.New(), "PROJ-1", "repo-1", "title", "description")
}

// pipelineEdges is the expected single-step table, minus the Failed and
// Cancelled exits every non-terminal state has.
var pipelineEdges = map[State][]State{
	StateTriggered:               {StateAnalyzing},
	StateAnalyzing:               {StateTicketUpdateGenerated},
	StateTicketUpdateGenerated:   {StateTicketUpdateUnderReview},
	StateTicketUpdateUnderReview: {StateTicketUpdateApproved, StateTicketUpdateRejected},
	StateTicketUpdateApproved:    {StateTicketUpdatePosted},
	StateTicketUpdateRejected:    {StateAnalyzing},
	StateTicketUpdatePosted:      {StateQuestionsPosted, StatePlanning},
	StateQuestionsPosted:         {StateAwaitingAnswers},
	StateAwaitingAnswers:         {StateAnswersReceived},
	StateAnswersReceived:         {StatePlanning},
	StatePlanning:                {StatePlanPosted},
	StatePlanPosted:              {StatePlanUnderReview},
	StatePlanUnderReview:         {StatePlanApproved, StatePlanRejected},
	StatePlanApproved:            {StateImplementing},
	StatePlanRejected:            {StatePlanning},
	StateImplementing:            {StatePRCreated, StateImplementationFailed},
	StateImplementationFailed:    {StateImplementing},
	StatePRCreated:               {StateInReview},
	StateInReview:                {StateCompleted},
}

func TestNext_MatchesPipelineEdges(t *testing.T) {
	for _, from := range AllStates() {
		want, ok := pipelineEdges[from]
		if ok {
			want = append(append([]State(nil), want...), StateFailed, StateCancelled)
		}
		assert.ElementsMatch(t, want, Next(from), "edges out of %s", from)
	}
	for _, terminal := range []State{StateCompleted, StateFailed, StateCancelled} {
		assert.Empty(t, Next(terminal), "%s must be terminal", terminal)
	}
}

func TestTransitionTo_EveryTableEdgeSucceeds(t *testing.T) {
	for from, edges := range pipelineEdges {
		for _, to := range append(append([]State(nil), edges...), StateFailed, StateCancelled) {
			tk := newTestTicket()
			tk.State = from

			require.NoError(t, tk.TransitionTo(to, "test"), "%s -> %s", from, to)
			assert.Equal(t, to, tk.State)

			events := tk.PendingEvents()
			require.Len(t, events, 1)
			assert.Equal(t, StateChanged{From: from, To: to, Reason: "test"}, events[0].Payload)
			assert.Equal(t, tk.ID, events[0].TicketID)
		}
	}
}

func TestTransitionTo_NonEdgesFailAndLeaveTicketUnchanged(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	freezeClock(t, created)

	for _, from := range AllStates() {
		for _, to := range AllStates() {
			if CanTransition(from, to) {
				continue
			}
			tk := newTestTicket()
			tk.State = from

			err := tk.TransitionTo(to, "")
			require.Error(t, err, "%s -> %s", from, to)
			assert.True(t, errors.Is(err, ErrInvalidTransition))

			var invalid *InvalidTransitionError
			require.True(t, errors.As(err, &invalid))
			assert.Equal(t, from, invalid.From)
			assert.Equal(t, to, invalid.To)

			assert.Equal(t, from, tk.State)
			assert.Equal(t, created, tk.UpdatedAt)
			assert.Empty(t, tk.PendingEvents())
		}
	}
}

func TestTransitionTo_TerminalStatesAreImmutable(t *testing.T) {
	for _, terminal := range []State{StateCompleted, StateCancelled, StateFailed} {
		assert.Empty(t, Next(terminal))
		for _, to := range AllStates() {
			tk := newTestTicket()
			tk.State = terminal
			assert.Error(t, tk.TransitionTo(to, ""), "%s -> %s", terminal, to)
		}
	}
}

func TestTransitionTo_CancelAndFailFromEveryNonTerminal(t *testing.T) {
	for _, s := range AllStates() {
		if s.IsTerminal() {
			continue
		}
		assert.True(t, CanTransition(s, StateCancelled), s)
		assert.True(t, CanTransition(s, StateFailed), s)
	}
}

func TestTransitionTo_TwoStepsRecordOrderedEvents(t *testing.T) {
	tk := newTestTicket()

	require.NoError(t, tk.TransitionTo(StateAnalyzing, ""))
	require.NoError(t, tk.TransitionTo(StateTicketUpdateGenerated, ""))

	assert.Equal(t, StateTicketUpdateGenerated, tk.State)
	events := tk.PendingEvents()
	require.Len(t, events, 2)
	assert.Equal(t, StateChanged{From: StateTriggered, To: StateAnalyzing}, events[0].Payload)
	assert.Equal(t, StateChanged{From: StateAnalyzing, To: StateTicketUpdateGenerated}, events[1].Payload)
}

func TestTransitionTo_TerminalSetsCompletedAt(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	freezeClock(t, at)

	tk := newTestTicket()
	require.Nil(t, tk.CompletedAt)
	require.NoError(t, tk.TransitionTo(StateCancelled, "admin"))
	require.NotNil(t, tk.CompletedAt)
	assert.Equal(t, at, *tk.CompletedAt)
}

func TestFail_EscalatesImplementingToImplementationFailed(t *testing.T) {
	tk := newTestTicket()
	tk.State = StateImplementing

	require.NoError(t, tk.Fail("ImplementationGraph", "model timeout"))
	assert.Equal(t, StateImplementationFailed, tk.State)
	require.NotNil(t, tk.LastError)
	assert.Equal(t, "model timeout", *tk.LastError)

	events := tk.PendingEvents()
	require.Len(t, events, 2)
	assert.Equal(t, KindStateChanged, events[0].Kind())
	assert.Equal(t, WorkflowFailed{GraphID: "ImplementationGraph", Error: "model timeout"}, events[1].Payload)
}

func TestFail_OtherStatesGoToFailed(t *testing.T) {
	tk := newTestTicket()
	tk.State = StatePlanning

	require.NoError(t, tk.Fail("", "boom"))
	assert.Equal(t, StateFailed, tk.State)
	assert.NotNil(t, tk.CompletedAt)
}

func TestComplete_RecordsDuration(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	freezeClock(t, start)
	tk := newTestTicket()
	tk.State = StateInReview

	freezeClock(t, start.Add(90*time.Minute))
	require.NoError(t, tk.Complete("merged"))

	events := tk.PendingEvents()
	require.Len(t, events, 2)
	assert.Equal(t, WorkflowCompleted{Duration: 90 * time.Minute}, events[1].Payload)
}

func TestCancel_AppendsCancelledEvent(t *testing.T) {
	tk := newTestTicket()
	require.NoError(t, tk.Cancel("duplicate"))

	events := tk.PendingEvents()
	require.Len(t, events, 2)
	assert.Equal(t, KindWorkflowCancelled, events[1].Kind())

	assert.Error(t, tk.Cancel("again"))
	assert.Len(t, tk.PendingEvents(), 2)
}

func TestDomainEvents(t *testing.T) {
	tk := newTestTicket()
	qid := tk.AddQuestion("Which database?")
	tk.AddAnswer(qid, "Postgres")
	tk.RecordPlan("feature/proj-1")
	tk.RecordPullRequest("https://git.example.com/pr/7", 7)
	tk.Suspend("RefinementGraph", StateAwaitingAnswers)

	kinds := []EventKind{}
	for _, e := range tk.PendingEvents() {
		kinds = append(kinds, e.Kind())
	}
	assert.Equal(t, []EventKind{
		KindQuestionAdded, KindAnswerAdded, KindPlanCreated, KindPullRequestCreated, KindWorkflowSuspended,
	}, kinds)

	tk.ClearPendingEvents()
	assert.Empty(t, tk.PendingEvents())
}

func TestPath(t *testing.T) {
	path, ok := Path(StateTriggered, StateAwaitingAnswers)
	require.True(t, ok)
	assert.Equal(t, []State{
		StateAnalyzing, StateTicketUpdateGenerated, StateTicketUpdateUnderReview,
		StateTicketUpdateApproved, StateTicketUpdatePosted, StateQuestionsPosted, StateAwaitingAnswers,
	}, path)

	tk := newTestTicket()
	for _, s := range path {
		require.NoError(t, tk.TransitionTo(s, "seed"))
	}
	assert.Equal(t, StateAwaitingAnswers, tk.State)

	_, ok = Path(StateCompleted, StateTriggered)
	assert.False(t, ok)
}

func TestPayloadRoundTripByKind(t *testing.T) {
	payloads := []Payload{
		StateChanged{From: StatePlanning, To: StatePlanPosted, Reason: "ok"},
		QuestionAdded{QuestionID: uuid.New(), Question: "q"},
		AnswerAdded{QuestionID: uuid.New(), AnswerText: "a"},
		PlanCreated{BranchName: "b"},
		PullRequestCreated{URL: "u", Number: 3},
		WorkflowSuspended{GraphID: "g", State: StateAwaitingAnswers},
		WorkflowCompleted{Duration: time.Hour},
		WorkflowFailed{GraphID: "g", Error: "e"},
		WorkflowCancelled{},
	}
	for _, p := range payloads {
		kind, data, err := EncodePayload(p)
		require.NoError(t, err)
		got, err := DecodePayload(kind, data)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := DecodePayload("bogus", []byte(`{}`))
	assert.Error(t, err)
}
