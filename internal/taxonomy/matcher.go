package taxonomy

import "strings"

// DefaultRequiredSensors is applied when a trading program does not
// declare its own requirement list.
var DefaultRequiredSensors = []string{"pH", "tds", "turbidity"}

// ExtractSensors returns the sensor map from a raw reading payload.
// Firmware revisions differ on whether sensor values sit at the top
// level or under a "sensors" key, and on value encoding.
func ExtractSensors(payload map[string]interface{}) map[string]float64 {
	raw := payload
	if nested, ok := payload["sensors"].(map[string]interface{}); ok {
		raw = nested
	}

	sensors := make(map[string]float64, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case float64:
			sensors[key] = v
		case int:
			sensors[key] = float64(v)
		case int64:
			sensors[key] = float64(v)
		}
	}
	return sensors
}

// Matches reports whether every required token appears as a
// case-insensitive substring of at least one present sensor key.
// Substring tolerance is deliberate: vendor firmware names drift
// ("ph" vs "ph_calibrated" vs "water_pH") and an exact-alias registry
// would chase every revision.
func Matches(sensors map[string]float64, required []string) bool {
	if len(required) == 0 {
		required = DefaultRequiredSensors
	}

	keys := make([]string, 0, len(sensors))
	for k := range sensors {
		keys = append(keys, strings.ToLower(k))
	}

	for _, token := range required {
		token = strings.ToLower(token)
		found := false
		for _, k := range keys {
			if strings.Contains(k, token) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
