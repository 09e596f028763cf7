package amqp

import (
	"encoding/json"
	"time"
)

const (
	EventPosted  = "posted"
	EventDeleted = "deleted"
)

// TransactionEventMessage is the lightweight payload published after a
// lifecycle mutation commits. It carries only the transaction id and the
// event kind; consumers fetch the full row from the database.
type TransactionEventMessage struct {
	TransactionID string    `json:"transaction_id"`
	Event         string    `json:"event"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewTransactionPostedMessage(transactionID string) *TransactionEventMessage {
	return &TransactionEventMessage{
		TransactionID: transactionID,
		Event:         EventPosted,
		Timestamp:     time.Now(),
	}
}

func NewTransactionDeletedMessage(transactionID string) *TransactionEventMessage {
	return &TransactionEventMessage{
		TransactionID: transactionID,
		Event:         EventDeleted,
		Timestamp:     time.Now(),
	}
}

func (m *TransactionEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func TransactionEventMessageFromJSON(data []byte) (*TransactionEventMessage, error) {
	var msg TransactionEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
