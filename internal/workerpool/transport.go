package workerpool

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/singer-orchestrator/internal/errkind"
)

// stderrRing is a small bounded ring buffer capturing a worker's stderr
// output for diagnostics, so a crash report can include the worker's last
// few lines without retaining unbounded memory.
type stderrRing struct {
	mu    sync.Mutex
	lines []string
	cap   int
}

func newStderrRing(capacity int) *stderrRing {
	if capacity <= 0 {
		capacity = 50
	}
	return &stderrRing{cap: capacity}
}

func (r *stderrRing) consume(rc io.ReadCloser) {
	go func() {
		defer rc.Close()
		buf := make([]byte, 4096)
		var tail strings.Builder
		for {
			n, err := rc.Read(buf)
			if n > 0 {
				tail.Write(buf[:n])
				for {
					s := tail.String()
					idx := strings.IndexByte(s, '\n')
					if idx < 0 {
						break
					}
					r.append(s[:idx])
					tail.Reset()
					tail.WriteString(s[idx+1:])
				}
			}
			if err != nil {
				return
			}
		}
	}()
}

func (r *stderrRing) append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.cap {
		r.lines = r.lines[len(r.lines)-r.cap:]
	}
}

// Tail returns a copy of the most recent captured stderr lines.
func (r *stderrRing) Tail() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

// transport wraps an *mcpsdk.Client/*mcpsdk.ClientSession pair behind the
// narrow send/receive/close contract the orchestration core needs,
// translating SDK failures into the stable errkind taxonomy and owning the
// subprocess's stderr capture.
type transport struct {
	client  *mcpsdk.Client
	cmd     *exec.Cmd
	session *mcpsdk.ClientSession
	stderr  *stderrRing
	grace   time.Duration
}

// dial spawns the worker subprocess described by cfg and performs the
// initial MCP handshake, returning a ready transport plus its discovered
// tool catalogue. Progress notifications the worker emits during tools/call
// (job/progress in spec terms; carried over MCP's standard progressToken
// convention) are forwarded to notify, if non-nil.
func dial(ctx context.Context, cfg Config, notify notifier) (*transport, []ToolMeta, error) {
	executable, args := splitCommand(cfg.Command)
	if executable == "" {
		return nil, nil, errkind.New(errkind.Internal, fmt.Sprintf("worker %s: empty command", cfg.Class))
	}

	cmd := exec.CommandContext(ctx, executable, args...)
	cmd.Env = append(cmd.Env, cfg.Env...)

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, errkind.Wrap(errkind.Internal, fmt.Sprintf("worker %s: stderr pipe", cfg.Class), err)
	}
	ring := newStderrRing(50)
	ring.consume(stderrPipe)

	var opts *mcpsdk.ClientOptions
	if notify != nil {
		opts = &mcpsdk.ClientOptions{
			ProgressNotificationHandler: func(ctx context.Context, req *mcpsdk.ProgressNotificationClientRequest) {
				forwardProgress(ctx, req, notify)
			},
		}
	}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "singer-orchestrator-workerpool", Version: "1.0.0"}, opts)
	tr := &mcpsdk.CommandTransport{Command: cmd}

	readyCtx := ctx
	if cfg.ReadyTimeout > 0 {
		var cancel context.CancelFunc
		readyCtx, cancel = context.WithTimeout(ctx, cfg.ReadyTimeout)
		defer cancel()
	}

	session, err := client.Connect(readyCtx, tr, nil)
	if err != nil {
		return nil, nil, errkind.Wrap(errkind.WorkerLost, fmt.Sprintf("worker %s: connect failed", cfg.Class), err)
	}

	var tools []ToolMeta
	for tool, err := range session.Tools(readyCtx, nil) {
		if err != nil {
			_ = session.Close()
			return nil, nil, errkind.Wrap(errkind.WorkerLost, fmt.Sprintf("worker %s: tools/list failed", cfg.Class), err)
		}
		tools = append(tools, ToolMeta{Name: tool.Name, Description: tool.Description, Parameters: schemaToMap(tool.InputSchema)})
	}

	return &transport{client: client, cmd: cmd, session: session, stderr: ring, grace: cfg.CloseGrace}, tools, nil
}

// call performs one tools/call round-trip.
func (t *transport) call(ctx context.Context, name string, argsJSON map[string]any) (*CallResult, error) {
	start := time.Now()
	res, err := t.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: argsJSON})
	dur := time.Since(start).Milliseconds()
	if err != nil {
		return nil, errkind.Wrap(errkind.WorkerLost, fmt.Sprintf("tool %q call failed", name), err)
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return &CallResult{Content: sb.String(), IsError: res.IsError, DurationMs: dur}, nil
}

// ping performs a cheap liveness probe (tools/list — workers are not
// required to implement a dedicated "ping" tool, and tools/list is
// idempotent and always supported).
func (t *transport) ping(ctx context.Context) error {
	for _, err := range t.session.Tools(ctx, nil) {
		if err != nil {
			return errkind.Wrap(errkind.WorkerLost, "ping failed", err)
		}
		break
	}
	return nil
}

// close flushes and closes the session, waiting up to t.grace before the
// subprocess is killed.
func (t *transport) close() error {
	done := make(chan error, 1)
	go func() { done <- t.session.Close() }()

	grace := t.grace
	if grace <= 0 {
		grace = 5 * time.Second
	}

	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		if t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		return errkind.New(errkind.WorkerLost, "worker did not exit within close grace period")
	}
}

// forwardProgress adapts an MCP standard progress notification into the
// domain's ProgressEvent. By convention the GPU worker sets progressToken
// to the job id it was called for, so no separate job_id field is needed on
// the wire; Message carries the step label as "<step>: <message>" which is
// split back apart here.
func forwardProgress(ctx context.Context, req *mcpsdk.ProgressNotificationClientRequest, notify notifier) {
	params := req.Params
	jobID := fmt.Sprintf("%v", params.ProgressToken)
	step, msg := params.Message, ""
	if idx := strings.Index(params.Message, ": "); idx >= 0 {
		step, msg = params.Message[:idx], params.Message[idx+2:]
	}
	total := params.Total
	fraction := params.Progress
	if total > 0 {
		fraction = params.Progress / total
	}
	notify.HandleProgress(ctx, ProgressEvent{
		JobID:    jobID,
		Step:     step,
		Progress: fraction,
		Message:  msg,
	})
}

func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	return map[string]any{"type": "object"}
}
