package api

import (
	"encoding/json"
	"sync"
	"time"
)

// LogEntry is one captured zerolog line
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Component string    `json:"component,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	Raw       string    `json:"raw"`
}

// LogBuffer keeps the most recent log lines in a fixed ring. It is an
// io.Writer so it can sit next to stdout in a MultiWriter.
type LogBuffer struct {
	entries []LogEntry
	size    int
	head    int
	count   int
	mu      sync.RWMutex
}

// NewLogBuffer creates a buffer holding at most size entries
func NewLogBuffer(size int) *LogBuffer {
	if size < 1 {
		size = 1
	}
	return &LogBuffer{
		entries: make([]LogEntry, size),
		size:    size,
	}
}

// Write implements io.Writer. zerolog issues one Write per event.
func (lb *LogBuffer) Write(p []byte) (int, error) {
	entry := parseEntry(p)

	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.entries[lb.head] = entry
	lb.head = (lb.head + 1) % lb.size
	if lb.count < lb.size {
		lb.count++
	}
	return len(p), nil
}

// Entries returns every buffered entry, oldest first
func (lb *LogBuffer) Entries() []LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	out := make([]LogEntry, lb.count)
	start := 0
	if lb.count == lb.size {
		start = lb.head
	}
	for i := 0; i < lb.count; i++ {
		out[i] = lb.entries[(start+i)%lb.size]
	}
	return out
}

// Recent returns up to n of the newest entries, optionally only those
// logged for one device.
func (lb *LogBuffer) Recent(n int, deviceID string) []LogEntry {
	all := lb.Entries()
	if deviceID != "" {
		filtered := all[:0]
		for _, e := range all {
			if e.DeviceID == deviceID {
				filtered = append(filtered, e)
			}
		}
		all = filtered
	}
	if n > 0 && len(all) > n {
		return all[len(all)-n:]
	}
	return all
}

type zerologLine struct {
	Time      string `json:"time"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Component string `json:"component"`
	DeviceID  string `json:"device_id"`
}

func parseEntry(p []byte) LogEntry {
	entry := LogEntry{Timestamp: time.Now(), Level: "info", Raw: string(p)}

	var line zerologLine
	if err := json.Unmarshal(p, &line); err != nil {
		entry.Message = string(p)
		return entry
	}
	if line.Level != "" {
		entry.Level = line.Level
	}
	if t, err := time.Parse(time.RFC3339, line.Time); err == nil {
		entry.Timestamp = t
	}
	entry.Message = line.Message
	entry.Component = line.Component
	entry.DeviceID = line.DeviceID
	return entry
}
