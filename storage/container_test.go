package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/hermes-sensorfusion/hermes/core"
	"github.com/hermes-sensorfusion/hermes/meta"
	"github.com/hermes-sensorfusion/hermes/storage"
	"github.com/stretchr/testify/require"
)

func TestContainerMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.container")

	sess := meta.Session{
		SessionID: "sess-e1",
		StartedAtReferenceNS: 123456789,
		HostID: "host-a",
		BrokerID: "a",
		ConfigDigest: "deadbeef",
	}
	streams := []core.Stream{
		{ID: "imu0", NodeID: "node-imu", NominalRate: 100, Schema: []core.ChannelSpec{{Name: "ax", Kind: "float32"}}},
	}
	md := storage.NewContainerMetadataFromSession(sess, streams)

	c, err := storage.NewContainer(path, md)
	require.NoError(t, err)
	require.NoError(t, c.AppendBlock(storage.Block{StreamID: "imu0", StartSeq: 0, EndSeq: 2}))
	require.NoError(t, c.Close())

	got, err := storage.OpenContainerMetadata(path)
	require.NoError(t, err)
	require.Equal(t, "sess-e1", got.SessionID)
	require.EqualValues(t, 123456789, got.StartedAtReferenceNS)
	require.Equal(t, md.Streams["imu0"].NominalRate, got.Streams["imu0"].NominalRate)
}

func TestVideoWriterIndexRoundTrip(t *testing.T) {
	dir := t.TempDir()
	vw, err := storage.NewVideoWriter(dir, "cam0")
	require.NoError(t, err)

	require.NoError(t, vw.WriteFrame(1000, 10, []byte("frame-a")))
	require.NoError(t, vw.WriteFrame(2000, 20, []byte("frame-b")))
	require.NoError(t, vw.Close())

	rows, err := storage.ReadIndex(filepath.Join(dir, "cam0.index"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.EqualValues(t, 0, rows[0].FrameNo)
	require.EqualValues(t, 1000, rows[0].ReferenceTSNS)
	require.EqualValues(t, 1, rows[1].FrameNo)
}
