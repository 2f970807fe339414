package keyboard_test

import (
	"strings"
	"testing"
	"time"

	"github.com/hermes-sensorfusion/hermes/keyboard"
	"github.com/stretchr/testify/require"
)

func TestEveryConsumerSeesEveryLineExactlyOnce(t *testing.T) {
	h := keyboard.NewHub(strings.NewReader("w\na\ns\nd\n"))
	a := h.Register("node-a")
	b := h.Register("node-b")
	go h.Run()

	wantLines := []string{"w", "a", "s", "d"}
	for _, want := range wantLines {
		select {
		case got := <-a:
			require.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for node-a line")
		}
		select {
		case got := <-b:
			require.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for node-b line")
		}
	}
}

func TestShutdownUnblocksReaderWithNoStdinInput(t *testing.T) {
	h := keyboard.NewHub(&blockingReader{})
	go h.Run()

	start := time.Now()
	h.Shutdown()

	select {
	case <-h.WaitStopped():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("reader did not stop within drain deadline")
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestShutdownIsIdempotent(t *testing.T) {
	h := keyboard.NewHub(strings.NewReader(""))
	go h.Run()
	h.Shutdown()
	h.Shutdown()
	<-h.WaitStopped()
}

// blockingReader never returns, modeling an interactive stdin with no
// input during the test's lifetime.
type blockingReader struct{}

func (*blockingReader) Read([]byte) (int, error) {
	select {}
}
