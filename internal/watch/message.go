package watch

import (
	"bytes"
	"encoding/json"
	"strings"
)

// DefaultPlayerOrigin is the only origin accepted by a zero-value Parser.
const DefaultPlayerOrigin = "https://www.youtube.com"

// Parser extracts Samples from raw player postMessage payloads.
type Parser struct {
	// Origin restricts accepted messages to a single sender origin.
	Origin string
}

type playerMessage struct {
	Event string          `json:"event"`
	Info  json.RawMessage `json:"info"`
}

type playerInfo struct {
	CurrentTime *float64 `json:"currentTime"`
	Duration    *float64 `json:"duration"`
}

// Parse returns the Sample carried by data when it was sent from the allowed
// origin and its info object holds both currentTime and duration. This covers
// "video-progress" events as well as the player's info deliveries. Anything
// else is treated as channel noise and reported with ok=false.
//
// data may be the JSON document itself or a JSON string wrapping it, matching
// how browsers relay postMessage payloads.
func (p Parser) Parse(origin string, data []byte) (Sample, bool) {
	allowed := p.Origin
	if allowed == "" {
		allowed = DefaultPlayerOrigin
	}
	if !strings.EqualFold(strings.TrimRight(origin, "/"), strings.TrimRight(allowed, "/")) {
		return Sample{}, false
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return Sample{}, false
		}
		data = []byte(inner)
	}

	var msg playerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Sample{}, false
	}
	if len(msg.Info) == 0 {
		return Sample{}, false
	}
	var info playerInfo
	if err := json.Unmarshal(msg.Info, &info); err != nil {
		return Sample{}, false
	}
	if info.CurrentTime == nil || info.Duration == nil {
		return Sample{}, false
	}
	return Sample{CurrentTime: *info.CurrentTime, Duration: *info.Duration}, true
}
