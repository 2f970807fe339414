package meta

import "github.com/hermes-sensorfusion/hermes/core"

// Session is created once at RUN entry and immutable thereafter.
type Session struct {
	SessionID string `json:"session_id"`
	StartedAtReferenceNS int64 `json:"started_at_reference_ns"`
	ParticipatingBrokers []string `json:"participating_brokers"`
	Streams []core.Stream `json:"streams"`
	HostID string `json:"host_id"`
	BrokerID string `json:"broker_id"`
	ConfigDigest string `json:"config_digest"`
}
