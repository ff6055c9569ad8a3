package model

import "time"

// Status is the delivery state stored in the messages table. The numeric
// values are part of the shared schema contract with the producer side and
// must not change: 0 means delivered, 1 means waiting, 2 means given up.
type Status int

const (
	Sent    Status = 0
	Pending Status = 1
	Failed  Status = 2
)

func (s Status) String() string {
	switch s {
	case Sent:
		return "sent"
	case Pending:
		return "pending"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message is one row of the outbound queue. Recipient and Attachment are
// stored raw; normalization happens at dispatch time.
type Message struct {
	ID         int64
	Recipient  string
	Body       string
	Attachment string
	Status     Status
	QueuedAt   time.Time
	SentAt     *time.Time
}

// Media is a decoded attachment, built once per send attempt and discarded
// after it. Data stays base64-encoded; the gateway expects it that way.
type Media struct {
	Mime     string
	Data     string
	Filename string
}
