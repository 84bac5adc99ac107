package payment

type Status string

const (
	StatusInitiated Status = "initiated"
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
	StatusExpired   Status = "expired"
)

// transitions is the full lifecycle: a payment starts initiated, moves to
// pending once the provider accepts it, settles to success or failed, and
// a successful payment may later flip to refunded. Anything that never
// settles expires.
var transitions = map[Status][]Status{
	StatusInitiated: {StatusPending, StatusSuccess, StatusFailed, StatusExpired},
	StatusPending:   {StatusSuccess, StatusFailed, StatusExpired},
	StatusSuccess:   {StatusRefunded},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusRefunded, StatusExpired:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusCompleted RefundStatus = "completed"
	RefundStatusFailed    RefundStatus = "failed"
)
