// Package workflow holds the ticket state machine and the typed events it emits.
package workflow

// State is the stage a ticket has reached in the pipeline.
type State string

const (
	StateTriggered               State = "triggered"
	StateAnalyzing               State = "analyzing"
	StateTicketUpdateGenerated   State = "ticket_update_generated"
	StateTicketUpdateUnderReview State = "ticket_update_under_review"
	StateTicketUpdateApproved    State = "ticket_update_approved"
	StateTicketUpdateRejected    State = "ticket_update_rejected"
	StateTicketUpdatePosted      State = "ticket_update_posted"
	StateQuestionsPosted         State = "questions_posted"
	StateAwaitingAnswers         State = "awaiting_answers"
	StateAnswersReceived         State = "answers_received"
	StatePlanning                State = "planning"
	StatePlanPosted              State = "plan_posted"
	StatePlanUnderReview         State = "plan_under_review"
	StatePlanApproved            State = "plan_approved"
	StatePlanRejected            State = "plan_rejected"
	StateImplementing            State = "implementing"
	StatePRCreated               State = "pr_created"
	StateImplementationFailed    State = "implementation_failed"
	StateInReview                State = "in_review"
	StateCompleted               State = "completed"
	StateFailed                  State = "failed"
	StateCancelled               State = "cancelled"
)

// transitions is the fixed single-step edge table. Failed and Cancelled are
// added to every non-terminal state in init.
var transitions = map[State][]State{
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
	StateCompleted:               nil,
	StateFailed:                  nil,
	StateCancelled:               nil,
}

func init() {
	for from, to := range transitions {
		if from.IsTerminal() {
			continue
		}
		transitions[from] = append(to, StateFailed, StateCancelled)
	}
}

// AllStates lists every state in pipeline order.
func AllStates() []State {
	return []State{
		StateTriggered, StateAnalyzing, StateTicketUpdateGenerated, StateTicketUpdateUnderReview,
		StateTicketUpdateApproved, StateTicketUpdateRejected, StateTicketUpdatePosted,
		StateQuestionsPosted, StateAwaitingAnswers, StateAnswersReceived, StatePlanning,
		StatePlanPosted, StatePlanUnderReview, StatePlanApproved, StatePlanRejected,
		StateImplementing, StatePRCreated, StateImplementationFailed, StateInReview,
		StateCompleted, StateFailed, StateCancelled,
	}
}

// IsValid reports whether s is one of the known states.
func (s State) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether s has no outgoing transitions.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether (from, to) is an edge of the table.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Next returns the states reachable from s in a single step.
func Next(s State) []State {
	out := make([]State, len(transitions[s]))
	copy(out, transitions[s])
	return out
}

// Path returns the shortest sequence of single-step transitions leading
// from one state to another, excluding from and including to. It is meant
// for seeding fixtures; TransitionTo still validates each edge.
func Path(from, to State) ([]State, bool) {
	if from == to {
		return nil, true
	}
	prev := map[State]State{from: ""}
	queue := []State{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range transitions[cur] {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == to {
				var path []State
				for s := to; s != from; s = prev[s] {
					path = append([]State{s}, path...)
				}
				return path, true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}
