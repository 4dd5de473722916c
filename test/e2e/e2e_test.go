//go:build !windows

// Package e2e builds h2otest and the fakenode worker and drives full runs as
// subprocesses.
package e2e

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

const (
	runTimeout   = 60 * time.Second
	pollInterval = 100 * time.Millisecond
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

type binaries struct {
	h2otest  string
	fakenode string
}

var (
	built     binaries
	buildOnce sync.Once
	buildErr  error
)

func getBinaries(t *testing.T) binaries {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "h2otest-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		root := findRepoRoot(t)
		for _, b := range []struct{ out, pkg string }{
			{filepath.Join(dir, "h2otest"), "./cmd/h2otest"},
			{filepath.Join(dir, "fakenode"), "./cmd/fakenode"},
		} {
			cmd := exec.Command("go", "build", "-o", b.out, b.pkg)
			cmd.Dir = root
			if out, err := cmd.CombinedOutput(); err != nil {
				buildErr = fmt.Errorf("go build %s failed: %w\n%s", b.pkg, err, out)
				return
			}
		}
		built = binaries{
			h2otest:  filepath.Join(dir, "h2otest"),
			fakenode: filepath.Join(dir, "fakenode"),
		}
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return built
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// writeSuite creates python-named shell scripts; runs use /bin/sh as the
// python interpreter.
func writeSuite(t *testing.T, scripts map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range scripts {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

type runProc struct {
	cmd        *exec.Cmd
	out        *lockedBuffer
	resultsDir string
	done       chan error
}

func startRun(t *testing.T, testDir string, extra ...string) *runProc {
	t.Helper()
	bins := getBinaries(t)
	resultsDir := t.TempDir()

	args := append([]string{"run",
		"--node-bin", bins.fakenode,
		"--baseport", strconv.Itoa(freePort(t)),
		"--test-dir", testDir,
		"--results-dir", resultsDir,
		"--python-bin", "/bin/sh",
		"--poll-interval", "50ms",
		"--ready-timeout", "20s",
	}, extra...)

	out := &lockedBuffer{}
	cmd := exec.Command(bins.h2otest, args...)
	cmd.Env = append(os.Environ(), "HOME="+t.TempDir())
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		t.Fatalf("start h2otest: %v", err)
	}

	rp := &runProc{cmd: cmd, out: out, resultsDir: resultsDir, done: make(chan error, 1)}
	go func() { rp.done <- cmd.Wait() }()
	t.Cleanup(func() {
		cmd.Process.Kill()
		<-rp.done
	})
	return rp
}

// wait returns the exit code of the run.
func (rp *runProc) wait(t *testing.T) int {
	t.Helper()
	select {
	case err := <-rp.done:
		rp.done <- err
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
		return 0
	case <-time.After(runTimeout):
		t.Fatalf("run did not finish within %v\noutput:\n%s", runTimeout, rp.out.String())
		return -1
	}
}

func (rp *runProc) read(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(rp.resultsDir, name))
	if err != nil {
		t.Fatalf("read %s: %v\noutput:\n%s", name, err, rp.out.String())
	}
	return string(data)
}

func (rp *runProc) waitForSummary(t *testing.T, substr string) {
	t.Helper()
	deadline := time.Now().Add(runTimeout)
	for time.Now().Before(deadline) {
		data, _ := os.ReadFile(filepath.Join(rp.resultsDir, "summary.txt"))
		if strings.Contains(string(data), substr) {
			return
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("summary.txt never contained %q\noutput:\n%s", substr, rp.out.String())
}

func TestRunMixedSuite(t *testing.T) {
	testDir := writeSuite(t, map[string]string{
		"pyunit_pass.py":         "exit 0\n",
		"pyunit_fail.py":         "exit 1\n",
		"pyunit_skip.py":         "exit 42\n",
		"pyunit_NOPASS_known.py": "exit 1\n",
		"pyunit_slow_medium.py":  "sleep 1\nexit 0\n",
	})

	rp := startRun(t, testDir, "--clouds", "2", "--nodes", "2", "--junit")
	if code := rp.wait(t); code == 0 {
		t.Fatalf("exit code = 0 for a suite with a failure\noutput:\n%s", rp.out.String())
	}

	summary := rp.read(t, "summary.txt")
	for _, want := range []string{"PASSED", "FAILED", "SKIPPED", "tolerated", "SUMMARY", "total=5"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary.txt missing %q:\n%s", want, summary)
		}
	}

	failed := strings.Fields(rp.read(t, "failed.txt"))
	if len(failed) != 1 || filepath.Base(failed[0]) != "pyunit_fail.py" {
		t.Errorf("failed.txt = %v, want only pyunit_fail.py", failed)
	}

	flatfile := strings.Fields(rp.read(t, "flatfile_0.txt"))
	if len(flatfile) != 2 {
		t.Errorf("flatfile_0.txt has %d members, want 2", len(flatfile))
	}
	for _, name := range []string{"node_0_0.out.txt", "node_0_1.out.txt", "node_1_0.out.txt", "node_1_1.out.txt"} {
		if log := rp.read(t, name); !strings.Contains(log, "Cloud of size 2 formed") {
			t.Errorf("%s missing formed marker:\n%s", name, log)
		}
	}

	junitFiles, _ := filepath.Glob(filepath.Join(rp.resultsDir, "junit", "*.xml"))
	if len(junitFiles) != 5 {
		t.Errorf("got %d junit files, want 5", len(junitFiles))
	}
}

func TestRunAllPassing(t *testing.T) {
	testDir := writeSuite(t, map[string]string{
		"pyunit_a.py": "exit 0\n",
		"pyunit_b.py": "exit 0\n",
		"pyunit_c.py": "exit 0\n",
	})

	rp := startRun(t, testDir, "--clouds", "2")
	if code := rp.wait(t); code != 0 {
		t.Fatalf("exit code = %d, want 0\noutput:\n%s", code, rp.out.String())
	}
	if out := rp.out.String(); !strings.Contains(out, "RESULT: PASS") {
		t.Errorf("output missing RESULT: PASS:\n%s", out)
	}
}

func TestStatusServer(t *testing.T) {
	testDir := writeSuite(t, map[string]string{
		"pyunit_wait.py": "sleep 3\nexit 0\n",
	})
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(freePort(t)))

	rp := startRun(t, testDir, "--status-addr", addr)
	rp.waitForSummary(t, "STARTED")

	resp, err := http.Get("http://" + addr + "/v1/status")
	if err != nil {
		t.Fatalf("GET /v1/status: %v\noutput:\n%s", err, rp.out.String())
	}
	defer resp.Body.Close()

	var st struct {
		Phase   string `json:"phase"`
		Running []struct {
			Path string `json:"path"`
		} `json:"running"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if len(st.Running) != 1 || filepath.Base(st.Running[0].Path) != "pyunit_wait.py" {
		t.Errorf("running = %+v, want pyunit_wait.py", st.Running)
	}

	if code := rp.wait(t); code != 0 {
		t.Errorf("exit code = %d, want 0\noutput:\n%s", code, rp.out.String())
	}
}

func TestTerminateOnSignal(t *testing.T) {
	testDir := writeSuite(t, map[string]string{
		"pyunit_long1.py":  "sleep 60\n",
		"pyunit_long2.py":  "sleep 60\n",
		"pyunit_queued.py": "exit 0\n",
	})

	rp := startRun(t, testDir, "--clouds", "1")
	rp.waitForSummary(t, "STARTED")

	start := time.Now()
	if err := rp.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if code := rp.wait(t); code == 0 {
		t.Errorf("exit code = 0 after SIGTERM")
	}
	if elapsed := time.Since(start); elapsed > 30*time.Second {
		t.Errorf("run took %v to stop after SIGTERM", elapsed)
	}

	summary := rp.read(t, "summary.txt")
	for _, want := range []string{"TERMINATED", "CANCELLED"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary.txt missing %q:\n%s", want, summary)
		}
	}
}
