package nlog_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/hermes-sensorfusion/hermes/cmn/nlog"
	"github.com/stretchr/testify/require"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	nlog.SetOutput(&buf)
	nlog.SetTitle("broker-a")
	nlog.SetQuiet(false)

	nlog.Infof("discover: %d peers", 3)
	nlog.Warningf("peer %s unreachable", "b")
	nlog.Errorf("sync failed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "I ")
	require.Contains(t, lines[0], "[broker-a]")
	require.Contains(t, lines[0], "discover: 3 peers")
	require.Contains(t, lines[1], "W ")
	require.Contains(t, lines[2], "E ")
}

func TestQuietSuppressesInfo(t *testing.T) {
	var buf bytes.Buffer
	nlog.SetOutput(&buf)
	nlog.SetTitle("")
	nlog.SetQuiet(true)
	defer nlog.SetQuiet(false)

	nlog.Infof("should not appear")
	nlog.Warningf("should appear")

	out := buf.String()
	require.NotContains(t, out, "should not appear")
	require.Contains(t, out, "should appear")
}
