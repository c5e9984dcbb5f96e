package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"agentplane/internal/agent"
	"agentplane/internal/store"

	"github.com/google/uuid"
)

const (
	// DefaultPackSize is how many scenarios a generated pack gets when
	// the request does not say.
	DefaultPackSize = 5
	maxPackSize     = 25
)

// ThreadAgent is the agent surface pack generation needs.
type ThreadAgent interface {
	StartThread(ctx context.Context) (string, error)
	RunTurn(ctx context.Context, threadID, input string) (agent.TurnResult, error)
}

type generatedScenario struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Instructions string `json:"instructions"`
	Expected     string `json:"expected"`
}

// GeneratePack asks the agent to author a scenario pack from a plain
// description of the system under test. The returned pack is not yet
// persisted.
func GeneratePack(ctx context.Context, a ThreadAgent, projectID, description string, count int) (*store.ScenarioPack, error) {
	if description == "" {
		return nil, fmt.Errorf("description is required")
	}
	if count <= 0 {
		count = DefaultPackSize
	}
	if count > maxPackSize {
		count = maxPackSize
	}

	threadID, err := a.StartThread(ctx)
	if err != nil {
		return nil, fmt.Errorf("start thread: %w", err)
	}

	res, err := a.RunTurn(ctx, threadID, generateInstruction(description, count))
	if err != nil {
		return nil, fmt.Errorf("generate turn: %w", err)
	}
	if res.Turn.Status == agent.TurnStatusFailed {
		return nil, fmt.Errorf("generate turn failed: %s", res.Turn.Error)
	}

	scenarios, err := parseGeneratedScenarios(res.MessageText)
	if err != nil {
		return nil, err
	}

	return &store.ScenarioPack{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Name:      packName(description),
		Scenarios: scenarios,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func generateInstruction(description string, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Author %d test scenarios for the following system:\n\n%s\n\n", count, description)
	b.WriteString("Reply with a JSON array only. Each element must have the string fields ")
	b.WriteString(`"id", "title", "instructions" and "expected". `)
	b.WriteString("Instructions must be concrete enough to execute without asking questions.")
	return b.String()
}

func parseGeneratedScenarios(text string) ([]store.Scenario, error) {
	for _, candidate := range jsonCandidates(text) {
		var list []generatedScenario
		if err := json.Unmarshal([]byte(candidate), &list); err != nil || len(list) == 0 {
			continue
		}

		out := make([]store.Scenario, 0, len(list))
		for i, g := range list {
			if g.Instructions == "" {
				continue
			}
			id := g.ID
			if id == "" {
				id = fmt.Sprintf("s%d", i+1)
			}
			out = append(out, store.Scenario{
				ID:           id,
				Title:        g.Title,
				Instructions: g.Instructions,
				Expected:     g.Expected,
			})
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, fmt.Errorf("agent reply contained no usable scenarios")
}

func packName(description string) string {
	name := strings.TrimSpace(description)
	if i := strings.IndexByte(name, '\n'); i > 0 {
		name = name[:i]
	}
	if len(name) > 60 {
		name = name[:60]
	}
	return name
}
