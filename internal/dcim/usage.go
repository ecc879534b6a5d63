package dcim

import (
	"encoding/json"
	"strconv"
	"strings"

	quotadomain "github.com/majidisaloo/easydcim-traffic/internal/quota/domain"
)

const bytesPerGb = 1073741824

// Sample is the traffic reported for one service over a cycle window.
type Sample struct {
	InBytes    float64
	OutBytes   float64
	TotalBytes float64
}

// Gb converts the mode-selected direction to gigabytes.
func (s Sample) Gb(mode quotadomain.Mode) float64 {
	switch mode {
	case quotadomain.ModeIn:
		return s.InBytes / bytesPerGb
	case quotadomain.ModeOut:
		return s.OutBytes / bytesPerGb
	default:
		return s.TotalBytes / bytesPerGb
	}
}

// ExtractSample pulls traffic counters out of an upstream payload. Field
// names vary across deployments, so each direction is tried against an
// ordered synonym list; a bare total field stands in when no direct fields
// exist, and a missing total is synthesized from in+out. The swap flag
// exchanges in/out before use.
func ExtractSample(payload map[string]any, inFields, outFields []string, swap bool) Sample {
	in, inOK := firstNumber(payload, inFields)
	out, outOK := firstNumber(payload, outFields)
	total, totalOK := firstNumber(payload, []string{"total"})

	if !inOK && !outOK {
		if totalOK {
			return Sample{TotalBytes: total}
		}
		return Sample{}
	}

	if swap {
		in, out = out, in
	}
	if !totalOK {
		total = in + out
	}
	return Sample{
		InBytes:    in,
		OutBytes:   out,
		TotalBytes: total,
	}
}

func decodePayload(data []byte) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	// Some deployments wrap the counters in a data envelope.
	if inner, ok := payload["data"].(map[string]any); ok {
		return inner, nil
	}
	return payload, nil
}

func decodePorts(data []byte) ([]Port, error) {
	var ports []Port
	if err := json.Unmarshal(data, &ports); err == nil {
		return ports, nil
	}
	var envelope struct {
		Data []Port `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

func firstNumber(payload map[string]any, fields []string) (float64, bool) {
	for _, field := range fields {
		if value, ok := lookupNumber(payload, field); ok {
			return value, true
		}
	}
	return 0, false
}

func lookupNumber(payload map[string]any, field string) (float64, bool) {
	raw, ok := payload[field]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case json.Number:
		value, err := v.Float64()
		return value, err == nil
	case string:
		value, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return value, err == nil
	default:
		return 0, false
	}
}

func endpointLabel(method, path string) string {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if segment == "" {
			continue
		}
		if _, err := strconv.ParseInt(segment, 10, 64); err == nil {
			segments[i] = ":id"
		}
	}
	return method + " " + strings.Join(segments, "/")
}
