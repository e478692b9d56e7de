package model

import "time"

type Status string

const (
	Pending          Status = "pending"
	AddressRequested Status = "addressRequested"
	AddressReceived  Status = "addressReceived"
	Completed        Status = "completed"
	Failed           Status = "failed"
)

var transitions = map[Status][]Status{
	Pending:          {AddressRequested, Failed},
	AddressRequested: {AddressReceived, Failed},
	AddressReceived:  {Completed, Failed},
}

func (s Status) Valid() bool {
	switch s {
	case Pending, AddressRequested, AddressReceived, Completed, Failed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

// CanTransitionTo follows the workflow order without skipping steps.
// Failed is reachable from every non-terminal status.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Postcard struct {
	ID             string     `json:"id"`
	RecipientPhone string     `json:"recipientPhone"`
	RecipientName  string     `json:"recipientName"`
	Message        string     `json:"message"`
	ImageReference string     `json:"imageReference"`
	Address        *string    `json:"address,omitempty"`
	Status         Status     `json:"status"`
	DateCreated    time.Time  `json:"dateCreated"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	AddressRecvAt  *time.Time `json:"addressReceivedAt,omitempty"`
	LastError      *string    `json:"lastError,omitempty"`
}
