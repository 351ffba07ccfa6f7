package detector

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/sentinelshield/sentinel/internal/types"
)

const (
	// writeTimeout bounds a single stdin write (hung worker protection)
	writeTimeout = 2 * time.Second
	// detectTimeout bounds one full request/response round trip
	detectTimeout = 10 * time.Second
	// stopTimeout bounds graceful worker shutdown before force kill
	stopTimeout = 2 * time.Second
)

// Python wraps an ONNX worker subprocess. Frames go out over stdin,
// results come back over stdout, both as length-prefixed msgpack
// messages (4 bytes big-endian + payload). Worker logs arrive on stderr
// and are relayed into slog.
//
// One request is in flight at a time: Detect serializes internally, which
// matches the pipeline's synchronous loop.
type Python struct {
	id         string
	workerCmd  string
	modelPath  string
	confidence float64

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	// responses carries decoded worker messages from the single stdout
	// reader goroutine to the Detect caller. Exactly one goroutine reads
	// stdout for the life of the process: a second reader would split the
	// byte stream and desync the length-prefix framing.
	responses chan map[string]interface{}

	detectMu sync.Mutex // one inference in flight
	writeMu  sync.Mutex // one framed message on stdin at a time

	writeTimeout  time.Duration
	detectTimeout time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	isActive atomic.Bool

	frameCount    uint64
	failureCount  uint64
	totalLatencyM uint64 // accumulated worker-reported latency, ms

	log *slog.Logger
}

// PythonConfig contains configuration for the python worker.
type PythonConfig struct {
	WorkerID   string
	WorkerCmd  string // wrapper script (activates venv, runs the worker)
	ModelPath  string
	Confidence float64
}

// NewPython creates a python detector worker.
func NewPython(cfg PythonConfig) (*Python, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model_path is required")
	}
	if cfg.WorkerCmd == "" {
		return nil, fmt.Errorf("worker_cmd is required")
	}
	if cfg.Confidence <= 0 {
		cfg.Confidence = 0.90 // default threshold
	}

	w := &Python{
		id:            cfg.WorkerID,
		workerCmd:     cfg.WorkerCmd,
		modelPath:     cfg.ModelPath,
		confidence:    cfg.Confidence,
		responses:     make(chan map[string]interface{}, 1),
		writeTimeout:  writeTimeout,
		detectTimeout: detectTimeout,
		log:           slog.With("worker_id", cfg.WorkerID),
	}

	w.log.Info("python detector worker created",
		"model", cfg.ModelPath,
		"confidence", cfg.Confidence,
	)

	return w, nil
}

// ID implements Detector.
func (w *Python) ID() string { return w.id }

// Start spawns the worker process and its supervision goroutines.
func (w *Python) Start(ctx context.Context) error {
	if w.isActive.Load() {
		return fmt.Errorf("worker already started")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)

	w.cmd = exec.CommandContext(w.ctx, w.workerCmd,
		"--model", w.modelPath,
		"--confidence", fmt.Sprintf("%.2f", w.confidence),
	)

	stdin, err := w.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	w.stdin = stdin

	stdout, err := w.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	w.stdout = stdout

	stderr, err := w.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	w.stderr = stderr

	if err := w.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start python process: %w", err)
	}

	w.isActive.Store(true)

	w.log.Info("python process spawned", "pid", w.cmd.Process.Pid)

	w.wg.Add(1)
	go w.logStderr()

	// Single owner of stdout for the life of the process
	w.wg.Add(1)
	go w.readResults()

	// Reap the process on exit to prevent zombies
	w.wg.Add(1)
	go w.waitProcess()

	return nil
}

// Detect sends one frame to the worker and waits for its result.
//
// Per-frame worker errors (malformed response, inference failure
// reported by the worker) degrade to a passthrough result with nil
// error. A broken pipe or response timeout returns an error: the worker
// is down and the pipeline should count it.
func (w *Python) Detect(ctx context.Context, frame types.Frame) (types.DetectionResult, error) {
	if !w.isActive.Load() {
		return passthrough(frame), fmt.Errorf("worker not active")
	}

	w.detectMu.Lock()
	defer w.detectMu.Unlock()

	atomic.AddUint64(&w.frameCount, 1)

	// A response abandoned by an earlier timed-out call answers a request
	// this caller never made; discard it so request and response stay
	// paired.
	w.discardStale()

	if err := w.sendFrame(frame); err != nil {
		atomic.AddUint64(&w.failureCount, 1)
		return passthrough(frame), fmt.Errorf("send frame to worker: %w", err)
	}

	resp, err := w.readResponse(ctx)
	if err != nil {
		atomic.AddUint64(&w.failureCount, 1)
		return passthrough(frame), fmt.Errorf("read worker response: %w", err)
	}

	result, ok := w.parseResponse(frame, resp)
	if !ok {
		// Malformed response: log happened in parseResponse, degrade to
		// passthrough but keep the worker alive
		atomic.AddUint64(&w.failureCount, 1)
		return passthrough(frame), nil
	}

	return result, nil
}

// sendFrame writes one length-prefixed msgpack request to the worker.
// Raw frame bytes go out as-is; msgpack carries []byte natively, no
// base64 overhead.
func (w *Python) sendFrame(frame types.Frame) error {
	request := map[string]interface{}{
		"frame_data": frame.Data,
		"width":      frame.Width,
		"height":     frame.Height,
		"meta": map[string]interface{}{
			"seq":       frame.Seq,
			"trace_id":  frame.TraceID,
			"timestamp": frame.Timestamp.Format(time.RFC3339Nano),
			"threshold": w.confidence,
		},
	}

	payload, err := msgpack.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack request: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		// The write mutex keeps an abandoned slow write from interleaving
		// with the next message and corrupting the framing.
		w.writeMu.Lock()
		defer w.writeMu.Unlock()

		lengthPrefix := make([]byte, 4)
		binary.BigEndian.PutUint32(lengthPrefix, uint32(len(payload)))

		if _, err := w.stdin.Write(lengthPrefix); err != nil {
			writeErr <- fmt.Errorf("failed to write length prefix: %w", err)
			return
		}
		if _, err := w.stdin.Write(payload); err != nil {
			writeErr <- fmt.Errorf("failed to write msgpack data: %w", err)
			return
		}
		writeErr <- nil
	}()

	select {
	case err := <-writeErr:
		return err
	case <-time.After(w.writeTimeout):
		return fmt.Errorf("stdin write timeout (python worker may be hung)")
	case <-w.ctx.Done():
		return fmt.Errorf("worker context cancelled during write")
	}
}

// readResults reads length-prefixed msgpack messages from stdout and
// delivers each decoded message on w.responses. Runs until stdout closes
// or a framing read fails.
func (w *Python) readResults() {
	defer w.wg.Done()

	lengthBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(w.stdout, lengthBuf); err != nil {
			if err == io.EOF {
				w.log.Debug("python worker stdout closed")
			} else if w.ctx.Err() == nil {
				w.log.Error("failed to read length prefix from python worker", "error", err)
			}
			return
		}

		msgLength := binary.BigEndian.Uint32(lengthBuf)
		data := make([]byte, msgLength)
		if _, err := io.ReadFull(w.stdout, data); err != nil {
			w.log.Error("failed to read msgpack data from python worker",
				"error", err,
				"expected_length", msgLength,
			)
			return
		}

		var resp map[string]interface{}
		if err := msgpack.Unmarshal(data, &resp); err != nil {
			w.log.Error("failed to unmarshal worker response",
				"error", err,
				"data_length", len(data),
			)
			continue
		}

		select {
		case w.responses <- resp:
		case <-w.ctx.Done():
			return
		}
	}
}

// discardStale empties the response channel of answers to requests
// whose caller already gave up.
func (w *Python) discardStale() {
	for {
		select {
		case <-w.responses:
			w.log.Warn("discarded stale worker response")
		default:
			return
		}
	}
}

// readResponse waits for the next decoded message from the stdout
// reader.
func (w *Python) readResponse(ctx context.Context) (map[string]interface{}, error) {
	select {
	case resp := <-w.responses:
		return resp, nil
	case <-time.After(w.detectTimeout):
		return nil, fmt.Errorf("inference timeout after %v", w.detectTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.ctx.Done():
		return nil, fmt.Errorf("worker stopped")
	}
}

// parseResponse converts the worker's msgpack map into a DetectionResult.
//
// Expected shape:
//
//	{
//	  "data": {
//	    "detections": [{"label": "pistol", "confidence": 0.95, "bbox": {...}}, ...],
//	    "annotated":  <jpeg bytes, optional>
//	  },
//	  "timing": {"total_ms": 45.2}
//	}
func (w *Python) parseResponse(frame types.Frame, resp map[string]interface{}) (types.DetectionResult, bool) {
	data, ok := resp["data"].(map[string]interface{})
	if !ok {
		w.log.Error("malformed worker response: missing data object")
		return types.DetectionResult{}, false
	}

	result := types.DetectionResult{Annotated: frame}

	// Annotated frame is optional; fall back to the original on absence
	if annotated, ok := data["annotated"].([]byte); ok && len(annotated) > 0 {
		result.Annotated = frame
		result.Annotated.Data = annotated
	}

	if rawDetections, ok := data["detections"].([]interface{}); ok {
		for _, raw := range rawDetections {
			det, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			label, _ := det["label"].(string)
			confidence, _ := det["confidence"].(float64)
			if label == "" {
				continue
			}
			result.Labels = append(result.Labels, label)
			result.Scores = append(result.Scores, confidence)
		}
	}
	result.HasDetection = len(result.Labels) > 0

	if timing, ok := resp["timing"].(map[string]interface{}); ok {
		if totalMS, ok := timing["total_ms"].(float64); ok {
			result.LatencyMS = totalMS
			atomic.AddUint64(&w.totalLatencyM, uint64(totalMS))
		}
	}

	return result, true
}

// logStderr relays worker stderr lines into slog, mapping the worker's
// log levels onto ours.
func (w *Python) logStderr() {
	defer w.wg.Done()

	scanner := bufio.NewScanner(w.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]") || strings.Contains(line, "[CRITICAL]"):
			w.log.Error("python worker", "line", line)
		case strings.Contains(line, "[WARNING]") || strings.Contains(line, "[WARN]"):
			w.log.Warn("python worker", "line", line)
		default:
			w.log.Debug("python worker", "line", line)
		}
	}
}

// waitProcess reaps the worker process when it exits.
func (w *Python) waitProcess() {
	defer w.wg.Done()

	err := w.cmd.Wait()
	w.isActive.Store(false)

	if err != nil {
		if w.ctx.Err() != nil {
			w.log.Debug("python process exited during shutdown", "error", err)
		} else {
			w.log.Error("python process exited unexpectedly", "error", err)
		}
		return
	}
	w.log.Debug("python process exited cleanly")
}

// Stop shuts down the worker: close stdin (graceful exit signal), wait
// briefly, then force kill.
func (w *Python) Stop() error {
	if !w.isActive.Load() && w.cancel == nil {
		return nil
	}

	if w.stdin != nil {
		_ = w.stdin.Close()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		w.log.Warn("worker stop timeout, force killing python process")
		if w.cmd != nil && w.cmd.Process != nil {
			_ = w.cmd.Process.Kill()
		}
		<-done
	}

	if w.cancel != nil {
		w.cancel()
	}
	w.isActive.Store(false)

	w.log.Info("python detector stopped",
		"frames", atomic.LoadUint64(&w.frameCount),
		"failures", atomic.LoadUint64(&w.failureCount),
	)

	return nil
}

// Metrics returns processing counters for health reporting.
func (w *Python) Metrics() (frames, failures uint64, avgLatencyMS float64) {
	frames = atomic.LoadUint64(&w.frameCount)
	failures = atomic.LoadUint64(&w.failureCount)
	ok := frames - failures
	if ok > 0 {
		avgLatencyMS = float64(atomic.LoadUint64(&w.totalLatencyM)) / float64(ok)
	}
	return frames, failures, avgLatencyMS
}
