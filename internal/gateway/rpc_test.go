package gateway

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewResultEchoesRawID(t *testing.T) {
	tests := []struct {
		name string
		id   json.RawMessage
		want string
	}{
		{name: "numeric id", id: json.RawMessage(`42`), want: `"id":42`},
		{name: "string id", id: json.RawMessage(`"req-7"`), want: `"id":"req-7"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(newResult(tt.id, map[string]any{"status": "registered"}))
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if !strings.Contains(string(data), tt.want) {
				t.Errorf("reply %s does not echo %s", data, tt.want)
			}
		})
	}
}

func TestNewResultOmitsMissingID(t *testing.T) {
	data, err := json.Marshal(newResult(nil, map[string]any{"status": "registered"}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := fields["id"]; present {
		t.Errorf("reply %s carries an id for an id-less request", data)
	}
}

func TestNewEventDefaultsParams(t *testing.T) {
	data, err := json.Marshal(newEvent(MethodEndAudio, nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var env struct {
		JSONRPC string         `json:"jsonrpc"`
		Method  string         `json:"method"`
		Params  map[string]any `json:"params"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.JSONRPC != "2.0" || env.Method != MethodEndAudio {
		t.Errorf("event = %+v", env)
	}
	if env.Params == nil {
		t.Error("nil params not defaulted to an empty object")
	}
}
