package cache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"offlinecache/internal/core"
)

func encodeResponse(resp *core.Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return data, nil
}

func decodeResponse(data []byte) (*core.Response, error) {
	var resp core.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse cached response: %w", err)
	}
	return &resp, nil
}

// hashKey returns a fixed-width digest of a request identity.
func hashKey(parts ...string) string {
	d := xxhash.New()
	for i, p := range parts {
		if i > 0 {
			_, _ = d.WriteString("\n")
		}
		_, _ = d.WriteString(p)
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

// stamped returns a copy of resp with StoredAt set.
func stamped(resp *core.Response, now time.Time) *core.Response {
	out := resp.Clone()
	if out.StoredAt.IsZero() {
		out.StoredAt = now.UTC()
	}
	return out
}

func validateEntries(entries []Entry) error {
	for i, e := range entries {
		if e.Request == nil || e.Response == nil {
			return fmt.Errorf("entry %d: request and response are required", i)
		}
		if !e.Request.Cacheable() {
			return fmt.Errorf("entry %d: method %s cannot be cached", i, e.Request.Method)
		}
	}
	return nil
}
