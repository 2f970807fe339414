package cos_test

import (
	"errors"
	"testing"

	"github.com/hermes-sensorfusion/hermes/cmn/cos"
	"github.com/stretchr/testify/require"
)

func TestChecksum64Deterministic(t *testing.T) {
	b := []byte("imu-stream-block")
	require.Equal(t, cos.Checksum64(b), cos.Checksum64(append([]byte(nil), b...)))
	require.NotEqual(t, cos.Checksum64(b), cos.Checksum64([]byte("different")))
}

func TestJoinWords(t *testing.T) {
	require.Equal(t, "a/b/c", cos.JoinWords("a", "", "b", "c"))
	require.Equal(t, "", cos.JoinWords())
}

func TestErrsDedupAndBound(t *testing.T) {
	var errs cos.Errs
	for i := 0; i < 100; i++ {
		errs.Add(errors.New("gap"))
	}
	errs.Add(errors.New("distinct"))
	require.EqualValues(t, 101, errs.Count())
	require.False(t, errs.Empty())
}

func TestErrOverflow(t *testing.T) {
	err := &cos.ErrOverflow{StreamID: "imu0", Capacity: 1000}
	require.Contains(t, err.Error(), "imu0")
	require.Contains(t, err.Error(), "1000")
}
