package stats

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// logEntry is the raw shape of one session log line.
type logEntry struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Timestamp  string          `json:"timestamp"`
	Cwd        string          `json:"cwd"`
	Provider   string          `json:"provider"`
	ModelID    string          `json:"modelId"`
	CustomType string          `json:"customType"`
	Data       *modelSnapshot  `json:"data"`
	Message    *logMessage     `json:"message"`
}

// modelSnapshot is the payload of custom model-snapshot entries.
type modelSnapshot struct {
	Provider string `json:"provider"`
	ModelID  string `json:"modelId"`
}

// logMessage is a message entry body.
type logMessage struct {
	Role     string          `json:"role"`
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Usage    *usagePayload   `json:"usage"`
	Content  json.RawMessage `json:"content"`
}

// usagePayload is the token/cost block attached to usage-bearing messages.
type usagePayload struct {
	Input       int64       `json:"input"`
	Output      int64       `json:"output"`
	CacheRead   int64       `json:"cacheRead"`
	CacheWrite  int64       `json:"cacheWrite"`
	TotalTokens int64       `json:"totalTokens"`
	Cost        costPayload `json:"cost"`
}

type costPayload struct {
	Total      float64 `json:"total"`
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cacheRead"`
	CacheWrite float64 `json:"cacheWrite"`
}

// parseCarry is the cross-line parser state that must survive between
// incremental passes over the same file: the session identity and the
// provider/model in effect, which earlier entries may have set.
type parseCarry struct {
	sessionID string
	provider  string
	model     string
}

// parseResult is the outcome of one pass over a byte range of a file.
type parseResult struct {
	records []UsageRecord
	offset  int64 // end of the last fully consumed line
	lines   int   // complete lines consumed
	skipped int   // malformed lines among them
	carry   parseCarry
}

// parseRange parses complete lines of the file starting at byte offset from,
// numbering them starting at startLine. An unterminated trailing line is a
// write in progress and is left for a later pass. One malformed line is
// skipped and counted, never fatal.
func parseRange(path string, from int64, startLine int, carry parseCarry) (parseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return parseResult{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(from, io.SeekStart); err != nil {
		return parseResult{}, fmt.Errorf("failed to seek %s: %w", path, err)
	}

	res := parseResult{offset: from, carry: carry}
	r := bufio.NewReaderSize(f, 64*1024)

	for {
		line, err := readLine(r)
		if err != nil {
			if err == io.EOF {
				break
			}
			return parseResult{}, fmt.Errorf("failed to read %s: %w", path, err)
		}

		idx := startLine + res.lines
		res.offset += int64(len(line))
		res.lines++

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}

		rec, ok, malformed := parseLine(trimmed, idx, &res.carry)
		if malformed {
			res.skipped++
			continue
		}
		if ok {
			res.records = append(res.records, rec)
		}
	}

	return res, nil
}

// readLine returns the next line including its delimiter, or io.EOF when no
// complete line remains. A trailing fragment without a newline is not
// consumed.
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	return line, nil
}

// parseLine converts one line into at most one usage record. ok reports a
// record was produced; malformed reports the line failed to parse at all.
// Lines of unrelated event types produce neither.
func parseLine(line []byte, idx int, carry *parseCarry) (rec UsageRecord, ok bool, malformed bool) {
	var entry logEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return UsageRecord{}, false, true
	}

	switch entry.Type {
	case "session":
		if entry.ID != "" {
			carry.sessionID = entry.ID
		}
		return UsageRecord{}, false, false

	case "model_change":
		if entry.Provider != "" {
			carry.provider = entry.Provider
		}
		if entry.ModelID != "" {
			carry.model = entry.ModelID
		}
		return UsageRecord{}, false, false

	case "custom":
		if entry.CustomType == "model-snapshot" && entry.Data != nil {
			if entry.Data.Provider != "" {
				carry.provider = entry.Data.Provider
			}
			if entry.Data.ModelID != "" {
				carry.model = entry.Data.ModelID
			}
		}
		return UsageRecord{}, false, false

	case "message":
		msg := entry.Message
		if msg == nil || msg.Usage == nil {
			return UsageRecord{}, false, false
		}
		model := msg.Model
		if model == "" {
			model = carry.model
		}
		// Mirror deliveries repeat usage already counted elsewhere. The model
		// may come from the carry state rather than the message itself.
		if model == "delivery-mirror" {
			return UsageRecord{}, false, false
		}
		if msg.Usage.TotalTokens <= 0 {
			return UsageRecord{}, false, false
		}
		ts, err := parseTimestamp(entry.Timestamp)
		if err != nil {
			// A usage payload without a usable timestamp cannot be bucketed.
			return UsageRecord{}, false, true
		}
		provider := msg.Provider
		if provider == "" {
			provider = carry.provider
		}
		if provider == "" {
			provider = "unknown"
		}
		if model == "" {
			model = "unknown"
		}

		u := msg.Usage
		return UsageRecord{
			Timestamp:        ts,
			SessionID:        carry.sessionID,
			Provider:         provider,
			Model:            model,
			InputTokens:      u.Input,
			OutputTokens:     u.Output,
			CacheReadTokens:  u.CacheRead,
			CacheWriteTokens: u.CacheWrite,
			TotalTokens:      u.TotalTokens,
			Cost:             u.Cost.Total,
			Kind:             classifyKind(msg.Role, messageText(msg.Content)),
			Line:             idx,
		}, true, false

	default:
		// Unrelated event types are dropped silently.
		return UsageRecord{}, false, false
	}
}

func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		ts, err = time.Parse(time.RFC3339, s)
	}
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// systemPatterns mark user-role messages that are injected by the platform
// rather than typed by a human: scheduled triggers, heartbeats, exec
// notifications.
var systemPatterns = []string{
	"System: [",
	"[cron:",
	"HEARTBEAT",
	"Exec completed",
}

// classifyKind tags a usage record by what kind of exchange produced it.
func classifyKind(role, text string) RecordKind {
	switch role {
	case "user":
		for _, p := range systemPatterns {
			if strings.Contains(text, p) {
				return KindSystem
			}
		}
		return KindUser
	case "assistant":
		return KindAssistant
	default:
		return KindSystem
	}
}

// messageText extracts the text of a message content field, which is either
// a plain string or a list of typed blocks.
func messageText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		parts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}

	return ""
}
