package scenario

import (
	"encoding/json"
	"strings"

	"agentplane/internal/store"
)

// reportedItem is the shape the instruction asks the agent to reply with.
type reportedItem struct {
	ScenarioID        string          `json:"scenarioId"`
	Status            string          `json:"status"`
	Observed          string          `json:"observed"`
	Expected          string          `json:"expected"`
	FailureHypothesis string          `json:"failureHypothesis"`
	Artifacts         json.RawMessage `json:"artifacts"`
}

// parseRunItem extracts this scenario's result from the agent's message
// text. Agents wrap JSON in fences or prose more often than not, so the
// parser tries the raw text, fenced blocks, and a bare {...} slice, and
// accepts either a single object or an item list.
func parseRunItem(text, scenarioID string) (store.ScenarioRunItem, bool) {
	for _, candidate := range jsonCandidates(text) {
		if item, ok := decodeItem(candidate, scenarioID); ok {
			return item, true
		}
	}
	return store.ScenarioRunItem{}, false
}

func jsonCandidates(text string) []string {
	var out []string
	trimmed := strings.TrimSpace(text)
	if trimmed != "" {
		out = append(out, trimmed)
	}

	// Fenced blocks: ```json ... ``` or plain ``` ... ```.
	rest := trimmed
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			break
		}
		rest = rest[start+3:]
		rest = strings.TrimPrefix(rest, "json")
		end := strings.Index(rest, "```")
		if end < 0 {
			break
		}
		out = append(out, strings.TrimSpace(rest[:end]))
		rest = rest[end+3:]
	}

	// Widest {...} or [...] slice.
	if i := strings.IndexAny(trimmed, "{["); i >= 0 {
		if j := strings.LastIndexAny(trimmed, "}]"); j > i {
			out = append(out, trimmed[i:j+1])
		}
	}
	return out
}

func decodeItem(candidate, scenarioID string) (store.ScenarioRunItem, bool) {
	var single reportedItem
	if err := json.Unmarshal([]byte(candidate), &single); err == nil && single.Status != "" {
		if single.ScenarioID == "" || single.ScenarioID == scenarioID {
			return toRunItem(single), true
		}
	}

	var list []reportedItem
	if err := json.Unmarshal([]byte(candidate), &list); err == nil {
		for _, it := range list {
			if it.ScenarioID == scenarioID && it.Status != "" {
				return toRunItem(it), true
			}
		}
	}

	var wrapped struct {
		Items []reportedItem `json:"items"`
	}
	if err := json.Unmarshal([]byte(candidate), &wrapped); err == nil {
		for _, it := range wrapped.Items {
			if it.ScenarioID == scenarioID && it.Status != "" {
				return toRunItem(it), true
			}
		}
	}

	return store.ScenarioRunItem{}, false
}

func toRunItem(r reportedItem) store.ScenarioRunItem {
	status := store.RunStatusFailed
	if strings.EqualFold(strings.TrimSpace(r.Status), "passed") {
		status = store.RunStatusPassed
	}
	return store.ScenarioRunItem{
		ScenarioID:        r.ScenarioID,
		Status:            status,
		Observed:          r.Observed,
		Expected:          r.Expected,
		FailureHypothesis: r.FailureHypothesis,
		Artifacts:         r.Artifacts,
	}
}
