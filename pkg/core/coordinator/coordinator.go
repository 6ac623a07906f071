// Package coordinator runs the live analysis loop: it buffers transcript
// segments during a voice session, periodically fans out to the analysis
// agents, and folds their results into context updates for the voice model.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/attune-ai/attune/pkg/core/agents"
	"github.com/attune-ai/attune/pkg/core/transcript"
	"github.com/attune-ai/attune/pkg/core/types"
)

// Config tunes the analysis loop. Zero values take the defaults.
type Config struct {
	// AnalysisInterval is the periodic cycle. Default 30s.
	AnalysisInterval time.Duration
	// ImmediateWordThreshold triggers an extra cycle when a user segment
	// has more than this many words. Default 5.
	ImmediateWordThreshold int
	// MinAnalysisChars skips cycles whose recent user text is shorter
	// than this after trimming. Default 10.
	MinAnalysisChars int
	// MoodHistorySize bounds the retained mood scores. Default 10.
	MoodHistorySize int
	// BufferSegments and AnalysisWindow size the transcript buffer.
	// Defaults 20 and 5.
	BufferSegments int
	AnalysisWindow int
}

func (c *Config) fillDefaults() {
	if c.AnalysisInterval <= 0 {
		c.AnalysisInterval = 30 * time.Second
	}
	if c.ImmediateWordThreshold <= 0 {
		c.ImmediateWordThreshold = 5
	}
	if c.MinAnalysisChars <= 0 {
		c.MinAnalysisChars = 10
	}
	if c.MoodHistorySize <= 0 {
		c.MoodHistorySize = 10
	}
}

// Dependencies are the collaborators a coordinator needs.
type Dependencies struct {
	Sentiment agents.SentimentAnalyzer
	Social    agents.SocialAdvisor
	Health    agents.HealthScorer
	Logger    *slog.Logger

	// OnAnalysis observes each completed analysis. Called outside any
	// lock, from the analyzing goroutine.
	OnAnalysis func(types.LiveAnalysisResult)
}

// Coordinator owns the transcript buffer, mood history, and analysis cycle
// for one voice session.
type Coordinator struct {
	cfg  Config
	deps Dependencies
	user types.UserContext

	buffer *transcript.Buffer

	mu            sync.Mutex
	moodHistory   []int
	lastAnalysis  *types.LiveAnalysisResult
	analysisCount int
	runCtx        context.Context

	inFlight atomic.Bool
	started  atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a coordinator for one session.
func New(user types.UserContext, cfg Config, deps Dependencies) *Coordinator {
	cfg.fillDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("component", "coordinator")
	return &Coordinator{
		cfg:    cfg,
		deps:   deps,
		user:   user,
		buffer: transcript.NewBuffer(cfg.BufferSegments, cfg.AnalysisWindow),
		runCtx: context.Background(),
		done:   make(chan struct{}),
	}
}

// Start launches the periodic analysis loop. Calling Start twice is a no-op.
func (c *Coordinator) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.runCtx = runCtx
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.cfg.AnalysisInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.AnalyzeNow(runCtx)
			case <-runCtx.Done():
				return
			}
		}
	}()
}

// Stop halts the periodic loop and waits for it to exit. Analyses already
// in flight finish on their own.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if !c.started.Load() || cancel == nil {
		return
	}
	cancel()
	<-c.done
}

// AddTranscript appends a segment. A user segment longer than the word
// threshold triggers an immediate analysis in the background.
func (c *Coordinator) AddTranscript(speaker types.Speaker, text string) {
	c.buffer.Add(speaker, text)
	if speaker == types.SpeakerUser && len(strings.Fields(text)) > c.cfg.ImmediateWordThreshold {
		c.mu.Lock()
		ctx := c.runCtx
		c.mu.Unlock()
		go c.AnalyzeNow(ctx)
	}
}

// AnalyzeNow runs one analysis cycle and reports whether it ran. A cycle is
// skipped while another is in flight, and when the recent user text is too
// short to score.
func (c *Coordinator) AnalyzeNow(ctx context.Context) bool {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.deps.Logger.Debug("analysis already in flight, skipping")
		return false
	}
	defer c.inFlight.Store(false)

	recent := strings.TrimSpace(c.buffer.RecentUserText(0))
	if recent == "" || len(recent) < c.cfg.MinAnalysisChars {
		return false
	}

	// The agents score the user's latest words as the current mood
	// material, alongside the initial health data.
	user := c.user
	user.Mood = recent

	var (
		sentiment agents.SentimentResult
		social    agents.SocialResult
		health    agents.HealthResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sentiment = c.deps.Sentiment.Analyze(gctx, user)
		return nil
	})
	g.Go(func() error {
		social = c.deps.Social.Analyze(gctx, user)
		return nil
	})
	g.Go(func() error {
		health = c.deps.Health.Analyze(gctx, user)
		return nil
	})
	g.Wait()

	result := c.record(sentiment, social, health)
	c.deps.Logger.Info("analysis cycle complete",
		"mood_score", result.MoodScore,
		"trend", result.MoodTrend,
		"urgency", result.Urgency)
	if c.deps.OnAnalysis != nil {
		c.deps.OnAnalysis(result)
	}
	return true
}

// record folds one set of agent results into the coordinator state and
// returns the assembled analysis.
func (c *Coordinator) record(sentiment agents.SentimentResult, social agents.SocialResult, health agents.HealthResult) types.LiveAnalysisResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.moodHistory = append(c.moodHistory, sentiment.MoodScore)
	if len(c.moodHistory) > c.cfg.MoodHistorySize {
		c.moodHistory = c.moodHistory[1:]
	}
	trend := moodTrend(c.moodHistory)
	urgency := urgencyFor(sentiment.MoodScore, trend)

	result := types.LiveAnalysisResult{
		MoodScore:         sentiment.MoodScore,
		MoodTrend:         trend,
		MoodContext:       sentiment.MoodAnalysis,
		SocialSuggestions: splitSuggestions(social.Suggestion),
		HealthInsights:    health.HealthSuggestion,
		Urgency:           urgency,
		SuggestedTopics:   suggestedTopics(sentiment.MoodScore, urgency),
		Timestamp:         time.Now(),
	}
	c.lastAnalysis = &result
	c.analysisCount++
	return result
}

// ContextForAgent renders the latest analysis as a context update block for
// the voice model, or "" when nothing has been analyzed yet.
func (c *Coordinator) ContextForAgent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastAnalysis == nil {
		return ""
	}
	a := c.lastAnalysis

	lines := []string{
		"\n[REAL-TIME CONTEXT UPDATE]",
		fmt.Sprintf("Current Mood: %d/10 (trend: %s)", a.MoodScore, a.MoodTrend),
		fmt.Sprintf("Urgency: %s", strings.ToUpper(string(a.Urgency))),
	}
	if a.MoodContext != "" {
		lines = append(lines, "Context: "+a.MoodContext)
	}
	if len(a.SocialSuggestions) > 0 {
		lines = append(lines, "Social Suggestions: "+strings.Join(a.SocialSuggestions, "; "))
	}
	if a.HealthInsights != "" {
		lines = append(lines, "Health Note: "+a.HealthInsights)
	}
	topics := a.SuggestedTopics
	if len(topics) > 3 {
		topics = topics[:3]
	}
	lines = append(lines,
		"Consider discussing: "+strings.Join(topics, ", "),
		"[END CONTEXT UPDATE]\n")
	return strings.Join(lines, "\n")
}

// CurrentAnalysis returns a copy of the latest analysis, or nil.
func (c *Coordinator) CurrentAnalysis() *types.LiveAnalysisResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastAnalysis == nil {
		return nil
	}
	out := *c.lastAnalysis
	return &out
}

// AnalysisCount reports how many cycles have completed.
func (c *Coordinator) AnalysisCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.analysisCount
}

// Conversation renders the full buffered transcript.
func (c *Coordinator) Conversation() string {
	return c.buffer.FullConversation()
}

func moodTrend(history []int) types.MoodTrend {
	if len(history) < 3 {
		return types.TrendStable
	}
	last := history[len(history)-3:]
	switch {
	case last[2] > last[0]+1:
		return types.TrendImproving
	case last[2] < last[0]-1:
		return types.TrendDeclining
	default:
		return types.TrendStable
	}
}

func urgencyFor(score int, trend types.MoodTrend) types.Urgency {
	declining := trend == types.TrendDeclining
	switch {
	case score <= 3 || (score <= 4 && declining):
		return types.UrgencyHigh
	case score <= 5 || declining:
		return types.UrgencyMedium
	default:
		return types.UrgencyLow
	}
}

// splitSuggestions breaks the social agent's prose into at most three
// sentence-sized suggestions.
func splitSuggestions(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ".") {
		p := strings.TrimSpace(part)
		if p != "" {
			out = append(out, p)
		}
		if len(out) == 3 {
			break
		}
	}
	return out
}

func suggestedTopics(score int, urgency types.Urgency) []string {
	var topics []string
	if score < 4 {
		topics = append(topics, "coping strategies", "self-care", "emotional support")
	}
	if urgency == types.UrgencyHigh {
		topics = append(topics, "immediate wellness techniques")
	}
	return append(topics, "social connection", "healthy activities")
}
