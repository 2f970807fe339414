package meta

// BrokerDescriptor identifies one host's broker.
type BrokerDescriptor struct {
	BrokerID string `json:"broker_id"`
	ControlEndpoint string `json:"control_endpoint"` // dialable TCP address, e.g. "host:7001"
	DataEndpoint string `json:"data_endpoint"` // dialable TCP address, e.g. "host:7002"
	LocalNodes []string `json:"local_nodes"`
	PeerBrokers []string `json:"peer_brokers"`
	IsClockRef bool `json:"is_clock_reference"`
}
