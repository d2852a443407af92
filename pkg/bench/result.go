package bench

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"code.cloudfoundry.org/bytefmt"
)

// Result reports a benchmark run. On failure the fields hold the partial
// progress made before the abort.
type Result struct {
	Role      string `json:"role"`
	Backend   string `json:"backend"`
	Direction string `json:"direction"`

	BufSize   int `json:"buf_size_bytes"`
	BufCount  int `json:"buf_count"`
	Requested int `json:"transfers_requested"`
	Completed int `json:"transfers_completed"`

	TransferMs []float64 `json:"transfer_ms,omitempty"` // per-transfer durations

	TotalBytes int64         `json:"total_bytes"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	ElapsedMs  float64       `json:"elapsed_ms"`

	Throughput      float64 `json:"throughput_bytes_per_sec"`
	ThroughputHuman string  `json:"throughput_human"`

	Verified    bool   `json:"verified"`
	VerifyError string `json:"verify_error,omitempty"` // mismatch detail, non-fatal
	Phase       string `json:"phase"`                  // phase reached when the run ended
	Error       string `json:"error,omitempty"`
}

// finalize computes the derived fields from the raw counters.
func (r *Result) finalize() {
	r.ElapsedMs = float64(r.Elapsed.Microseconds()) / 1000.0
	if r.Elapsed > 0 {
		r.Throughput = float64(r.TotalBytes) / r.Elapsed.Seconds()
		r.ThroughputHuman = bytefmt.ByteSize(uint64(r.Throughput)) + "/s"
	}
}

// WriteJSON writes the result as indented JSON.
func (r *Result) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Summary returns a one-line human summary.
func (r *Result) Summary() string {
	if r.Error != "" {
		return fmt.Sprintf("%s %s aborted in %s after %d/%d transfers: %s",
			r.Backend, r.Direction, r.Phase, r.Completed, r.Requested, r.Error)
	}
	s := fmt.Sprintf("%s %s: %d transfers of %s in %v, %s",
		r.Backend, r.Direction, r.Completed,
		bytefmt.ByteSize(uint64(r.BufSize)), r.Elapsed.Round(time.Millisecond),
		r.ThroughputHuman)
	if r.VerifyError != "" {
		s += " (VERIFY FAILED: " + r.VerifyError + ")"
	}
	return s
}
