// Package observ provides the process-wide structured event log and the
// in-process metrics registry. Events are single-line JSON on stdout; metrics
// are served as a JSON dump by the control server (not Prometheus format on
// purpose; the operator tooling consumes the dump directly).
package observ

import (
	"encoding/json"
	"fmt"
	"time"
)

// Log emits a single structured event. kv is mutated to add ts/event keys.
func Log(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	kv["event"] = event
	b, _ := json.Marshal(kv)
	fmt.Println(string(b))
}
