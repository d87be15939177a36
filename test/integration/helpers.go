package integration

import (
	"bytes"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"Tally/client"
)

// safeBuffer wraps bytes.Buffer with a mutex for concurrent read/write.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write appends data to the buffer (implements io.Writer).
func (sb *safeBuffer) Write(p []byte) (int, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.Write(p)
}

// String returns the buffer contents as a string.
func (sb *safeBuffer) String() string {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.String()
}

// Node represents a running tally node process.
type Node struct {
	index    int         // index is the node's position in the cluster
	cmd      *exec.Cmd   // cmd is the running process
	httpAddr string      // httpAddr is the HTTP API address
	quicAddr string      // quicAddr is the QUIC network address
	dataDir  string      // dataDir is the node's data directory
	keyPath  string      // keyPath is the node's private key file
	args     []string    // args are the flags the process was started with
	stdout   *safeBuffer // stdout captures process output
	stderr   *safeBuffer // stderr captures process errors
}

// HTTPAddr returns the node's HTTP address.
func (n *Node) HTTPAddr() string { return n.httpAddr }

// QUICAddr returns the node's QUIC address.
func (n *Node) QUICAddr() string { return n.quicAddr }

// IsRunning checks if the node process is alive and started successfully.
func (n *Node) IsRunning() bool {
	if n.cmd == nil || n.cmd.Process == nil {
		return false
	}

	if !strings.Contains(n.stdout.String(), "starting tally node") {
		return false
	}

	return n.cmd.ProcessState == nil
}

// Logs returns the node's stdout output.
func (n *Node) Logs() string { return n.stdout.String() }

// LogContains checks if the node's logs contain a substring.
func (n *Node) LogContains(s string) bool {
	return strings.Contains(n.stdout.String(), s)
}

// Stop terminates the node process, asking nicely first so storage
// closes cleanly.
func (n *Node) Stop() {
	if n.cmd == nil || n.cmd.Process == nil {
		return
	}

	n.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		n.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		n.cmd.Process.Kill()
		<-done
	}
}

// clusterOpts holds configuration for a Cluster.
type clusterOpts struct {
	httpBase int    // httpBase is the starting HTTP port
	quicBase int    // quicBase is the starting QUIC port
	variant  string // variant is the dedup index variant for all nodes
}

// ClusterOption configures cluster behavior.
type ClusterOption func(*clusterOpts)

// WithHTTPBase sets the starting HTTP port.
func WithHTTPBase(port int) ClusterOption { return func(o *clusterOpts) { o.httpBase = port } }

// WithQUICBase sets the starting QUIC port.
func WithQUICBase(port int) ClusterOption { return func(o *clusterOpts) { o.quicBase = port } }

// WithVariant sets the dedup index variant for all nodes.
func WithVariant(v string) ClusterOption { return func(o *clusterOpts) { o.variant = v } }

// Cluster manages a group of node processes for a test.
type Cluster struct {
	t          *testing.T  // t is the test context
	nodes      []*Node     // nodes is the list of running nodes
	binaryPath string      // binaryPath is the compiled node binary
	testDir    string      // testDir is the temporary directory for node data
	opts       clusterOpts // opts is the cluster configuration
}

// NewCluster builds the binary, starts N nodes, and registers cleanup.
// Every node after the first peers with node 0.
func NewCluster(t *testing.T, size int, options ...ClusterOption) *Cluster {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	opts := clusterOpts{
		httpBase: 18000,
		quicBase: 19000,
		variant:  "membership",
	}
	for _, o := range options {
		o(&opts)
	}

	c := &Cluster{
		t:          t,
		testDir:    t.TempDir(),
		opts:       opts,
		binaryPath: buildBinary(t),
	}

	t.Cleanup(c.StopAll)

	for i := 0; i < size; i++ {
		c.StartNode()
	}

	for _, n := range c.nodes {
		c.waitForHealth(n)
	}

	return c
}

// buildBinary compiles cmd/node into a temp path shared by the test.
func buildBinary(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tally-node")

	cmd := exec.Command("go", "build", "-o", path, "Tally/cmd/node")
	cmd.Dir = "../.."

	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build node binary: %v\n%s", err, out)
	}

	return path
}

// StartNode launches one more node and returns it. Nodes after the
// first dial node 0 as their peer.
func (c *Cluster) StartNode(extraArgs ...string) *Node {
	c.t.Helper()

	i := len(c.nodes)

	n := &Node{
		index:    i,
		httpAddr: fmt.Sprintf("127.0.0.1:%d", c.opts.httpBase+i),
		quicAddr: fmt.Sprintf("127.0.0.1:%d", c.opts.quicBase+i),
		dataDir:  filepath.Join(c.testDir, fmt.Sprintf("node%d", i)),
		keyPath:  filepath.Join(c.testDir, fmt.Sprintf("node%d.key", i)),
	}

	args := []string{
		"-data", n.dataDir,
		"-http", n.httpAddr,
		"-quic", n.quicAddr,
		"-key", n.keyPath,
		"-variant", c.opts.variant,
		"-verbose",
	}
	if i > 0 {
		args = append(args, "-peers", c.nodes[0].quicAddr)
	}
	args = append(args, extraArgs...)
	n.args = args

	c.launch(n)
	c.nodes = append(c.nodes, n)

	return n
}

// Restart stops a node and brings it back with the same data, key and
// addresses.
func (c *Cluster) Restart(i int) {
	c.t.Helper()

	old := c.nodes[i]
	old.Stop()

	n := &Node{
		index:    old.index,
		httpAddr: old.httpAddr,
		quicAddr: old.quicAddr,
		dataDir:  old.dataDir,
		keyPath:  old.keyPath,
		args:     old.args,
	}

	c.launch(n)
	c.nodes[i] = n
	c.waitForHealth(n)
}

// launch starts the node process with captured output.
func (c *Cluster) launch(n *Node) {
	c.t.Helper()

	n.stdout = &safeBuffer{}
	n.stderr = &safeBuffer{}

	cmd := exec.Command(c.binaryPath, n.args...)
	cmd.Stdout = n.stdout
	cmd.Stderr = n.stderr

	if err := cmd.Start(); err != nil {
		c.t.Fatalf("start node %d: %v", n.index, err)
	}

	n.cmd = cmd
}

// Node returns the i-th node.
func (c *Cluster) Node(i int) *Node { return c.nodes[i] }

// Client returns an HTTP client for the i-th node.
func (c *Cluster) Client(i int) *client.Client {
	return client.New("http://" + c.nodes[i].httpAddr)
}

// StopAll terminates every node in the cluster.
func (c *Cluster) StopAll() {
	for _, n := range c.nodes {
		n.Stop()
	}
}

// waitForHealth blocks until the node answers its health check.
func (c *Cluster) waitForHealth(n *Node) {
	c.t.Helper()

	cl := client.New("http://" + n.httpAddr)
	deadline := time.Now().Add(15 * time.Second)

	for time.Now().Before(deadline) {
		if err := cl.Health(); err == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	c.t.Fatalf("node %d never became healthy\nstdout:\n%s\nstderr:\n%s",
		n.index, n.stdout.String(), n.stderr.String())
}

// waitFor polls cond until it returns true or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", msg)
}

// futureDeadline returns a voting deadline comfortably in the future.
func futureDeadline() uint32 {
	return uint32(time.Now().Unix()) + 3600
}
