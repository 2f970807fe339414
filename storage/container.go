package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hermes-sensorfusion/hermes/cmn/jsp"
	"github.com/hermes-sensorfusion/hermes/core"
	"github.com/hermes-sensorfusion/hermes/meta"
)

// ContainerMetadata is the root metadata group written once, at the head
// of the tabular container.
type ContainerMetadata struct {
	SessionID string `json:"session_id"`
	StartedAtReferenceNS int64 `json:"started_at_reference_ns"`
	HostID string `json:"host_id"`
	BrokerID string `json:"broker_id"`
	ConfigDigest string `json:"config_digest"`
	Streams map[string]StreamMeta `json:"streams"`
}

// StreamMeta records one stream's per-stream nominal rate and schema,
// tagged with its owning node's id.
type StreamMeta struct {
	NodeID string `json:"node_id"`
	Schema []core.ChannelSpec `json:"schema"`
	NominalRate float64 `json:"nominal_rate"`
	IsBurst bool `json:"is_burst"`
	ChannelNames []string `json:"channel_names"`
}

// Block is one flushed range of samples for one stream dataset.
type Block struct {
	StreamID string `json:"stream_id"`
	StartSeq uint64 `json:"start_seq"`
	EndSeq uint64 `json:"end_seq"`
	Samples []core.Sample `json:"samples"`
}

// Container is the single hierarchical tabular file for one session:
// a metadata record followed by an append-only sequence
// of per-stream blocks, each jsp-framed and checksummed.
type Container struct {
	mu sync.Mutex
	file *os.File
}

// NewContainer creates (or truncates) the container file at path and
// writes its metadata header as the first record.
func NewContainer(path string, md ContainerMetadata) (*Container, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	c := &Container{file: f}
	if err := jsp.Save(f, md); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

// AppendBlock appends one flushed block as a new framed record. Safe for
// concurrent use by multiple stream flushers.
func (c *Container) AppendBlock(b Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return jsp.Save(c.file, b)
}

// Sync forces the container file to stable storage; called before a Node
// reports DONE during DRAIN.
func (c *Container) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file.Sync()
}

func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file.Close()
}

// OpenContainerMetadata reads only the metadata header of a container
// file, the round-trip this package's tests exercise.
func OpenContainerMetadata(path string) (ContainerMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return ContainerMetadata{}, err
	}
	defer f.Close()
	var md ContainerMetadata
	if err := jsp.Load(f, &md); err != nil {
		return ContainerMetadata{}, fmt.Errorf("storage: reading container metadata: %w", err)
	}
	return md, nil
}

// NewContainerMetadataFromSession builds the metadata header from a
// Session and its per-stream descriptors.
func NewContainerMetadataFromSession(sess meta.Session, streams []core.Stream) ContainerMetadata {
	md := ContainerMetadata{
		SessionID: sess.SessionID,
		StartedAtReferenceNS: sess.StartedAtReferenceNS,
		HostID: sess.HostID,
		BrokerID: sess.BrokerID,
		ConfigDigest: sess.ConfigDigest,
		Streams: make(map[string]StreamMeta, len(streams)),
	}
	for _, s := range streams {
		names := make([]string, len(s.Schema))
		for i, ch := range s.Schema {
			names[i] = ch.Name
		}
		md.Streams[s.ID] = StreamMeta{
			NodeID: s.NodeID,
			Schema: s.Schema,
			NominalRate: s.NominalRate,
			IsBurst: s.IsBurst,
			ChannelNames: names,
		}
	}
	return md
}
