package syncloop

import (
	"strings"
	"time"

	"github.com/lc5900/flamingo-downloader/internal/store"
)

const metadataTimeoutErrorCode = "METADATA_TIMEOUT"

// splitMirrors parses a comma/newline separated mirror list.
func splitMirrors(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\n", ",")
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// nextRetryAt computes the spec's backoff schedule: attempts=0 -> +backoff,
// attempts=1 -> +2*backoff, attempts=2 -> +3*backoff, etc.
func nextRetryAt(now time.Time, backoffSecs, attempts int) int64 {
	return now.Unix() + int64(backoffSecs)*int64(attempts+1)
}

// applyMetadataTimeout transitions a magnet task stuck in Metadata with
// no known length past metadataTimeoutSecs into Error.
func applyMetadataTimeout(task *store.Task, now time.Time, metadataTimeoutSecs int) bool {
	if task.Status != store.StatusMetadata || task.Total != 0 {
		return false
	}
	if metadataTimeoutSecs <= 0 {
		return false
	}
	if now.Unix()-task.UpdatedAt < int64(metadataTimeoutSecs) {
		return false
	}
	task.Status = store.StatusError
	task.ErrorCode = metadataTimeoutErrorCode
	task.ErrorMessage = "metadata not resolved in time"
	return true
}

// retryDecision is what the sync loop should do for one Error task.
type retryDecision struct {
	ShouldRetry bool
	NewSource   string // only set when an HTTP mirror rewrite applies
}

// planRetry decides whether an Error task is due for automatic retry,
// and what its resubmission source should be.
func planRetry(task store.Task, now time.Time, maxAttempts, backoffSecs int, mirrors []string) retryDecision {
	if task.Status != store.StatusError {
		return retryDecision{}
	}
	if maxAttempts <= 0 {
		return retryDecision{}
	}
	if task.RetryAttempts >= maxAttempts {
		return retryDecision{}
	}
	if now.Unix() < task.NextRetryAt {
		return retryDecision{}
	}

	decision := retryDecision{ShouldRetry: true}
	if task.Kind == store.KindHTTP && task.RetryAttempts > 0 && len(mirrors) > 0 {
		idx := task.RetryAttempts - 1
		if idx >= 0 && idx < len(mirrors) {
			decision.NewSource = mirrors[idx]
		}
	}
	return decision
}
