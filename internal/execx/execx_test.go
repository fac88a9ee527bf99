package execx

import (
	"bytes"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStreaming_Success(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell assumptions do not hold on Windows")
	}

	cmd := exec.Command("echo", "hello world")

	result, err := RunStreaming(cmd)
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Stdout)
	assert.Equal(t, "", result.Stderr)
}

func TestRunStreaming_WithError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell assumptions do not hold on Windows")
	}

	cmd := exec.Command("sh", "-c", "echo 'error message' >&2; exit 1")

	result, err := RunStreaming(cmd)
	require.Error(t, err)
	assert.Equal(t, "", result.Stdout)
	assert.Equal(t, "error message", result.Stderr)
}

func TestRunTagged_PrefixesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell assumptions do not hold on Windows")
	}

	var sink bytes.Buffer
	cmd := exec.Command("sh", "-c", "echo one; echo two")

	result, err := RunTagged(cmd, "build", &sink)
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "one")

	lines := strings.Split(strings.TrimRight(sink.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[build] one", lines[0])
	assert.Equal(t, "[build] two", lines[1])
}

func TestTagWriter_BuffersPartialLines(t *testing.T) {
	t.Parallel()

	var sink bytes.Buffer
	w := NewTagWriter("dl", &sink)

	_, err := w.Write([]byte("partial"))
	require.NoError(t, err)
	assert.Equal(t, "", sink.String())

	_, err = w.Write([]byte(" line\nnext"))
	require.NoError(t, err)
	assert.Equal(t, "[dl] partial line\n", sink.String())

	require.NoError(t, w.Flush())
	assert.Equal(t, "[dl] partial line\n[dl] next\n", sink.String())
}

func TestTagWriter_ConcurrentWritersKeepWholeLines(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var sink bytes.Buffer
	locked := writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return sink.Write(p)
	})

	build := NewTagWriter("build", locked)
	dl := NewTagWriter("dl", locked)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			build.Write([]byte("compiling kernel\n"))
		}()
		go func() {
			defer wg.Done()
			dl.Write([]byte("fetching weights\n"))
		}()
	}
	wg.Wait()

	for _, line := range strings.Split(strings.TrimRight(sink.String(), "\n"), "\n") {
		ok := line == "[build] compiling kernel" || line == "[dl] fetching weights"
		require.True(t, ok, "unexpected interleaved line: %q", line)
	}
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
