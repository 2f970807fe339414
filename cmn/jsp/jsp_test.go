package jsp_test

import (
	"bytes"
	"testing"

	"github.com/hermes-sensorfusion/hermes/cmn/jsp"
	"github.com/stretchr/testify/require"
)

type record struct {
	SessionID string `json:"session_id"`
	StartedAtReference int64 `json:"started_at_reference_ns"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := record{SessionID: "sess-1", StartedAtReference: 123456789}
	require.NoError(t, jsp.Save(&buf, in))

	var out record
	require.NoError(t, jsp.Load(&buf, &out))
	require.Equal(t, in, out)
}

func TestLoadDetectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jsp.Save(&buf, record{SessionID: "sess-1"}))
	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xFF

	var out record
	err := jsp.Load(bytes.NewReader(corrupted), &out)
	require.Error(t, err)
	require.Contains(t, err.Error(), "checksum mismatch")
}
