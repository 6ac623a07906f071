package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/attune-ai/attune/pkg/core/providers/gemini"
	"github.com/attune-ai/attune/pkg/core/types"
	"github.com/attune-ai/attune/pkg/store"
)

const socialSystemPrompt = `You are a specialized Social Event Agent. ` +
	`Your task is to use the 'get_user_interests' tool for the user name provided in the ` +
	`context. Then, use the 'find_social_events' tool with the retrieved interests to find ` +
	`relevant, upcoming events. Finally, suggest one or two specific, compelling events to ` +
	`the user based on the tool results. Your final output should be a single string, ` +
	`starting with 'Based on your interests in X, you might enjoy Y on Z at P.'`

// maxToolIterations caps the tool loop. A model that keeps calling tools
// without ever answering falls through to a canned suggestion.
const maxToolIterations = 5

// defaultInterests backs users with no stored profile.
const defaultInterests = "wellness, outdoor activities, social events"

// SocialAgent runs a tool loop over the stored user profile and events
// catalog to produce one concrete social suggestion.
type SocialAgent struct {
	llm      LLM
	model    string
	profiles store.ProfileStore
	events   store.EventsStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewSocialAgent creates a social agent. Nil stores behave as unavailable,
// which routes every tool call onto its fallback result.
func NewSocialAgent(llm LLM, model string, profiles store.ProfileStore, events store.EventsStore, logger *slog.Logger) *SocialAgent {
	if model == "" {
		model = DefaultModel
	}
	if profiles == nil {
		profiles = store.Unconfigured{}
	}
	if events == nil {
		events = store.Unconfigured{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SocialAgent{
		llm:      llm,
		model:    model,
		profiles: profiles,
		events:   events,
		logger:   logger.With("agent", "social"),
		now:      time.Now,
	}
}

// Analyze drives the tool loop and returns a social suggestion. Tool calls
// returned by the model execute in order; the first text response wins.
func (a *SocialAgent) Analyze(ctx context.Context, user types.UserContext) SocialResult {
	if a.llm == nil {
		return SocialResult{Suggestion: "Consider checking local community boards for events that match your interests."}
	}

	contents := []gemini.Content{agentMessage(socialSystemPrompt, user)}
	for i := 0; i < maxToolIterations; i++ {
		resp, err := a.llm.GenerateContent(ctx, a.model, &gemini.GenerateRequest{
			Contents: contents,
			Tools:    socialTools(),
		})
		if err != nil {
			a.logger.Warn("social suggestion failed", "error", err)
			return SocialResult{Suggestion: "Consider checking local community resources for social activities."}
		}

		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			return SocialResult{Suggestion: strings.TrimSpace(resp.Text())}
		}

		contents = append(contents, resp.Candidates[0].Content)
		responseParts := make([]gemini.Part, 0, len(calls))
		for _, call := range calls {
			responseParts = append(responseParts, gemini.Part{
				FunctionResponse: &gemini.FunctionResponse{
					ID:       call.ID,
					Name:     call.Name,
					Response: map[string]any{"result": a.executeTool(ctx, call)},
				},
			})
		}
		contents = append(contents, gemini.Content{Role: "user", Parts: responseParts})
	}

	a.logger.Warn("social suggestion hit tool iteration limit")
	return SocialResult{Suggestion: "Consider exploring local community events that align with your wellness goals."}
}

func (a *SocialAgent) executeTool(ctx context.Context, call gemini.FunctionCall) any {
	switch call.Name {
	case "get_user_interests":
		name, _ := call.Args["user_name"].(string)
		return a.userInterests(ctx, name)
	case "find_social_events":
		interests, _ := call.Args["interests"].(string)
		return a.findEvents(ctx, interests)
	default:
		return map[string]string{"error": fmt.Sprintf("unknown tool: %s", call.Name)}
	}
}

func (a *SocialAgent) userInterests(ctx context.Context, userName string) string {
	interests, err := a.profiles.UserInterests(ctx, userName)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Sprintf("No specific interests found for %s. Using default interests: %s.", userName, defaultInterests)
	}
	if err != nil {
		a.logger.Warn("interest lookup failed", "user", userName, "error", err)
		return defaultInterests
	}
	return interests
}

func (a *SocialAgent) findEvents(ctx context.Context, interestsCSV string) []store.SocialEvent {
	events, err := a.events.UpcomingEvents(ctx, SplitInterests(interestsCSV), a.now())
	if err != nil {
		a.logger.Warn("event lookup failed", "error", err)
		return []store.SocialEvent{{
			Interest: "general",
			Name:     "Local community activities",
			Date:     "Various dates",
			Location: "Check local resources",
		}}
	}
	if len(events) == 0 {
		return []store.SocialEvent{{
			Interest: "general",
			Name:     "Local community meetup",
			Date:     "Check local community boards",
			Location: "Your area",
		}}
	}
	return events
}

// SplitInterests normalizes a comma-separated interest list into lowercase
// tags, dropping empties.
func SplitInterests(csv string) []string {
	var tags []string
	for _, raw := range strings.Split(csv, ",") {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func socialTools() []gemini.Tool {
	return []gemini.Tool{{
		FunctionDeclarations: []gemini.FunctionDeclaration{
			{
				Name:        "get_user_interests",
				Description: "Look up the stored interests for a user by name. Returns a comma-separated interest list.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"user_name": {"type": "string", "description": "The user's name"}
					},
					"required": ["user_name"]
				}`),
			},
			{
				Name:        "find_social_events",
				Description: "Find upcoming events matching a comma-separated list of interests.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"interests": {"type": "string", "description": "Comma-separated interest tags"}
					},
					"required": ["interests"]
				}`),
			},
		},
	}}
}
