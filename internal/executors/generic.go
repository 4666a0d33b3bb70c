package executors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aisatoshi/internal/scheduler"
	"aisatoshi/internal/types"
)

// Generic records a heartbeat. When params.message is set it is delivered as
// a reminder.
func Generic(ctx context.Context, t types.Task) (scheduler.Result, error) {
	res := scheduler.Result{
		Output: fmt.Sprintf("heartbeat #%d at %s", t.ExecutionCount+1, time.Now().UTC().Format(time.RFC3339)),
	}
	if msg := strings.TrimSpace(types.ExtractString(t.Params["message"])); msg != "" {
		res.Notify = fmt.Sprintf("⏰ %s\n%s", t.Name, msg)
	}
	return res, nil
}
