// Package status captures point-in-time system telemetry and injects it
// into tool-result content without breaking provider-side prompt caching.
//
// Capture reads live state and runs only when a step is newly executed.
// Construct renders a snapshot without reading anything live, so replaying
// a stored snapshot always yields byte-identical output. Inject prepends
// the constructed block to a tool result exactly once, at step
// finalization.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/parley-ai/parley/pkg/types"
)

// Snapshot is a point-in-time telemetry record. Stored verbatim in message
// metadata; values are pre-formatted strings so reconstruction never
// reformats.
type Snapshot struct {
	Timestamp string `json:"timestamp"`
	CPU       string `json:"cpu"`
	Memory    string `json:"memory"`
}

// Capture reads current system state. Never call this when reconstructing
// historical messages.
func Capture() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Snapshot{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		CPU:       readLoadAverage(),
		Memory:    fmt.Sprintf("%.1f MiB", float64(mem.HeapAlloc)/(1024*1024)),
	}
}

// Construct renders the display block for a snapshot. It is a pure function
// of its argument.
func Construct(s Snapshot) string {
	return fmt.Sprintf("<system-status>\ntimestamp: %s\ncpu: %s\nmemory: %s\n</system-status>",
		s.Timestamp, s.CPU, s.Memory)
}

// Inject normalizes a tool-result payload of any shape into an itemized
// list and prepends the constructed status block as the first item.
func Inject(output any, s Snapshot) []types.ToolResultItem {
	items := Normalize(output)
	head := types.ToolResultItem{Type: "text", Text: Construct(s)}
	return append([]types.ToolResultItem{head}, items...)
}

// Normalize converts a tool-result payload (plain text, error, structured
// value, or pre-itemized content) into an itemized list.
func Normalize(output any) []types.ToolResultItem {
	switch v := output.(type) {
	case nil:
		return nil
	case []types.ToolResultItem:
		return v
	case types.ToolResultItem:
		return []types.ToolResultItem{v}
	case string:
		return []types.ToolResultItem{{Type: "text", Text: v}}
	case error:
		return []types.ToolResultItem{{Type: "text", Text: "Error: " + v.Error()}}
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return []types.ToolResultItem{{Type: "text", Text: fmt.Sprint(v)}}
		}
		return []types.ToolResultItem{{Type: "text", Text: string(data)}}
	}
}

// readLoadAverage reports the 1-minute load average where the platform
// exposes it.
func readLoadAverage() string {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return "n/a"
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "n/a"
	}
	return fields[0]
}
