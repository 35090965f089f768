package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType represents the type of device session event
type EventType string

const (
	EventRegistered       EventType = "registered"
	EventRecordingStarted EventType = "recording_started"
	EventRecordingTimeout EventType = "recording_timeout"
	EventEndpointDetected EventType = "endpoint_detected"
	EventUtterance        EventType = "utterance"
	EventToolResult       EventType = "tool_result"
	EventAgentCompleted   EventType = "agent_completed"
	EventDisconnected     EventType = "disconnected"
)

// Logger provides async event logging to the database
type Logger struct {
	db *pgxpool.Pool
}

// New creates a new event logger
func New(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, macAddr string, eventType EventType, data map[string]any) error {
	if l.db == nil || macAddr == "" {
		return nil // Silently skip if no DB or device
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO device_events (mac_addr, event_type, event_data)
		VALUES ($1, $2, $3)
	`, macAddr, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(macAddr string, eventType EventType, data map[string]any) {
	if l.db == nil || macAddr == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, macAddr, eventType, data)
	}()
}

// Event is one row of a device's event history.
type Event struct {
	ID        string          `json:"id"`
	MacAddr   string          `json:"mac_addr"`
	EventType EventType       `json:"event_type"`
	EventData json.RawMessage `json:"event_data"`
	CreatedAt time.Time       `json:"created_at"`
}

// Recent returns the newest events for a device, newest first.
func (l *Logger) Recent(ctx context.Context, macAddr string, limit int) ([]Event, error) {
	if l.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := l.db.Query(ctx, `
		SELECT id, mac_addr, event_type, event_data, created_at
		FROM device_events
		WHERE mac_addr = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, macAddr, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.MacAddr, &e.EventType, &e.EventData, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
