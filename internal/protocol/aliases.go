package protocol

import "encoding/json"

// Legacy alias sets accepted on ingress. Emission always uses canonical
// names; normalization happens once, at the edge, so downstream code only
// ever sees canonical tags and field names.
var aliasTypes = map[string]string{
	"player_ready": TypeParticipantReady,
	"game_started": TypeSessionStarted,
	"game_over":    TypeSessionEnded,
	"game_reset":   TypeSessionReset,
}

var aliasFields = map[string]string{
	"playerId":       "participantId",
	"playerNumber":   "participantNumber",
	"gamePhase":      "sessionPhase",
	"votedPlayerIds": "votedParticipantIds",
	"totalPlayers":   "totalParticipants",
}

// Normalize rewrites legacy type tags and top-level field names to their
// canonical forms. Frames that are not JSON objects, or that carry no
// legacy names, are returned unchanged; callers still parse (and reject)
// the result as usual.
func Normalize(raw []byte) []byte {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}

	changed := false

	if t, ok := obj["type"]; ok {
		var tag string
		if err := json.Unmarshal(t, &tag); err == nil {
			if canonical, ok := aliasTypes[tag]; ok {
				enc, err := json.Marshal(canonical)
				if err == nil {
					obj["type"] = enc
					changed = true
				}
			}
		}
	}

	for legacy, canonical := range aliasFields {
		v, ok := obj[legacy]
		if !ok {
			continue
		}
		// A frame carrying both names keeps the canonical one.
		if _, dup := obj[canonical]; !dup {
			obj[canonical] = v
		}
		delete(obj, legacy)
		changed = true
	}

	if !changed {
		return raw
	}

	out, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return out
}
