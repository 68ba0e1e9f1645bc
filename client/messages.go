package client

// RegisterMessage is published on the register topic.
type RegisterMessage struct {
	ClientID    string            `json:"client_id"`
	Name        string            `json:"name,omitempty"`
	DatasetSize uint64            `json:"dataset_size"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type AliveMessage struct {
	ClientID string `json:"client_id"`
}

type FailureMessage struct {
	ClientID string `json:"client_id"`
	Round    uint64 `json:"round"`
	Reason   string `json:"reason"`
}
