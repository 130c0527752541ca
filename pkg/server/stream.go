package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keplerai/kepler/pkg/agent"
	"github.com/keplerai/kepler/pkg/config"
	"github.com/keplerai/kepler/pkg/llms"
	"github.com/keplerai/kepler/pkg/observability"
	"github.com/keplerai/kepler/pkg/store"
	"github.com/keplerai/kepler/pkg/tools"
)

// ProviderResolver yields an LLM client for a named configuration with
// per-request overrides. Satisfied by llms.Registry.
type ProviderResolver interface {
	Resolve(name, model string, temperature float64) (llms.Provider, error)
}

// StreamService owns the external event contract: it drives one agent
// run per request, translates graph events into SSE events, and
// persists the turn.
type StreamService struct {
	providers   ProviderResolver
	tools       *tools.Registry
	checkpoints *agent.CheckpointStore
	store       *store.ConversationStore
	tasks       *TaskRegistry
	agentCfg    config.AgentConfig
	logger      *slog.Logger
}

func NewStreamService(
	providers ProviderResolver,
	registry *tools.Registry,
	checkpoints *agent.CheckpointStore,
	conversations *store.ConversationStore,
	tasks *TaskRegistry,
	agentCfg config.AgentConfig,
	logger *slog.Logger,
) *StreamService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamService{
		providers:   providers,
		tools:       registry,
		checkpoints: checkpoints,
		store:       conversations,
		tasks:       tasks,
		agentCfg:    agentCfg,
		logger:      logger,
	}
}

// streamOutcome is how the graph consumption ended.
type streamOutcome int

const (
	outcomeCompleted streamOutcome = iota
	outcomeInterrupted
	outcomeCancelled
	outcomeFailed
)

// translator carries the per-stream emission state: whether sources
// went out, whether any token went out, and the sources for the turn.
type translator struct {
	sink           EventSink
	sourcesEmitted bool
	contentEmitted bool
	sources        []store.SourceInfo
}

// AskStream runs one question end to end. The request must already be
// validated; everything that goes wrong from here on is in-band.
func (s *StreamService) AskStream(ctx context.Context, userID string, req *StreamRequest, sink EventSink) {
	start := time.Now()
	opts := req.StreamOptions

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	// Conversation continuity lives in the turn store; the thread ID
	// only keys the per-request checkpoint for interrupt/resume.
	threadID := uuid.NewString()

	logger := s.logger.With("session_id", sessionID, "user_id", userID)

	history, lastScore, err := s.loadHistory(ctx, sessionID, userID, opts.ConversationWindow)
	if err != nil {
		logger.Error("failed to load conversation history", "error", err)
		s.finishWithError(sink, "failed to load conversation history", "")
		return
	}

	provider, err := s.providers.Resolve(opts.Provider, opts.Model, opts.Temperature)
	if err != nil {
		s.finishWithError(sink, err.Error(), "")
		return
	}
	defer provider.Close()

	state := &agent.AgentState{
		OriginalQuery:        req.Query,
		Status:               agent.StatusRunning,
		MaxIterations:        opts.MaxIterations,
		MaxRetrievalAttempts: opts.MaxRetrievalAttempts,
		ConversationHistory:  history,
		Metadata: agent.StateMetadata{
			GuardrailThreshold: opts.GuardrailThreshold,
			TopK:               opts.TopK,
			LastGuardrailScore: lastScore,
		},
		SessionID: sessionID,
		ThreadID:  threadID,
	}

	runCtx, cancel, release := s.register(ctx, sessionID, opts.TimeoutSeconds)
	defer release()
	defer cancel()

	graph := agent.NewGraph(provider, s.tools, s.checkpoints)
	events := graph.Run(runCtx, state)

	tr := &translator{sink: sink}
	outcome, runErr := s.consume(runCtx, events, state, tr, opts.TopK)

	metadata := MetadataPayload{
		Query:             req.Query,
		RetrievalAttempts: state.RetrievalAttempts,
		GuardrailScore:    state.Metadata.GuardrailScore,
		Provider:          opts.Provider,
		Model:             provider.ModelName(),
		SessionID:         sessionID,
		ReasoningSteps:    reasoningSteps(state),
		TraceID:           observability.TraceIDFromContext(ctx),
	}
	if state.RewrittenQuery != "" {
		metadata.RewrittenQuery = &state.RewrittenQuery
	}

	switch outcome {
	case outcomeInterrupted:
		s.finishInterrupted(ctx, sink, state, userID, req.Query, opts, provider.ModelName(), sessionID, threadID, start, metadata, logger)

	case outcomeCancelled:
		// The accumulated partial answer survives cancellation.
		turn := s.buildTurn(req.Query, state, opts, provider.ModelName(), tr.sources)
		if _, err := s.store.SaveTurn(ctx, sessionID, turn, userID); err != nil {
			logger.Error("failed to persist cancelled turn", "error", err)
		}
		logger.Info("stream cancelled", "answer_chars", len(state.Answer))
		_ = sink(EventDone, map[string]any{})

	case outcomeFailed:
		s.emitRunError(sink, runErr)
		_ = sink(EventDone, map[string]any{})

	default:
		if !tr.contentEmitted && state.Answer != "" {
			logger.Warn("no content events were streamed, emitting the full answer at once")
			_ = sink(EventContent, ContentPayload{Token: state.Answer})
		}

		turn := s.buildTurn(req.Query, state, opts, provider.ModelName(), tr.sources)
		saved, err := s.store.SaveTurn(ctx, sessionID, turn, userID)
		if err != nil {
			logger.Error("failed to persist turn", "error", err)
			s.finishWithError(sink, "failed to persist turn", "")
			return
		}

		metadata.ExecutionTimeMS = time.Since(start).Milliseconds()
		metadata.TurnNumber = saved.TurnNumber
		_ = sink(EventMetadata, metadata)
		_ = sink(EventDone, map[string]any{})
	}
}

// ResumeStream continues a run paused for ingestion approval.
func (s *StreamService) ResumeStream(ctx context.Context, userID string, req *StreamRequest, sink EventSink) {
	start := time.Now()
	resume := req.Resume
	opts := req.StreamOptions
	sessionID := resume.SessionID

	logger := s.logger.With("session_id", sessionID, "user_id", userID, "thread_id", resume.ThreadID)

	pending, err := s.store.GetPendingTurn(ctx, sessionID, userID)
	if err != nil {
		logger.Error("failed to look up pending turn", "error", err)
		s.finishWithError(sink, "failed to look up pending turn", "")
		return
	}
	if pending == nil {
		s.finishWithError(sink, "no confirmation is pending for this session", CodeDoubleConfirm)
		return
	}

	model := opts.Model
	temperature := opts.Temperature
	if pc := pending.PendingConfirmation; pc != nil {
		if model == "" {
			model = pc.Model
		}
		if pc.Temperature > 0 {
			temperature = pc.Temperature
		}
	}

	provider, err := s.providers.Resolve(opts.Provider, model, temperature)
	if err != nil {
		s.finishWithError(sink, err.Error(), "")
		return
	}
	defer provider.Close()

	if resume.Approved && len(resume.SelectedIDs) > 0 {
		if !s.runInlineIngest(ctx, resume.SelectedIDs, sink, logger) {
			return
		}
	}

	runCtx, cancel, release := s.register(ctx, sessionID, opts.TimeoutSeconds)
	defer release()
	defer cancel()

	graph := agent.NewGraph(provider, s.tools, s.checkpoints)
	events, state, err := graph.Resume(runCtx, resume.ThreadID, resume.Approved, resume.SelectedIDs)
	if errors.Is(err, agent.ErrCheckpointNotFound) {
		if clearErr := s.store.ClearPendingConfirmation(ctx, sessionID, pending.TurnNumber, userID); clearErr != nil {
			logger.Error("failed to clear stale pending confirmation", "error", clearErr)
		}
		s.finishWithError(sink, "the paused run has expired, please ask again", CodeCheckpointExpired)
		return
	}
	if err != nil {
		s.finishWithError(sink, err.Error(), "")
		return
	}

	tr := &translator{sink: sink}
	outcome, runErr := s.consume(runCtx, events, state, tr, opts.TopK)

	if outcome == outcomeFailed {
		s.emitRunError(sink, runErr)
		_ = sink(EventDone, map[string]any{})
		return
	}
	if outcome == outcomeInterrupted {
		// A resumed run pausing again means the router re-proposed
		// ingestion despite the confirmation; refuse rather than nest.
		s.finishWithError(sink, "run paused again unexpectedly", "")
		return
	}

	if outcome == outcomeCompleted && !tr.contentEmitted && state.Answer != "" {
		logger.Warn("no content events were streamed, emitting the full answer at once")
		_ = sink(EventContent, ContentPayload{Token: state.Answer})
	}

	// The paused turn keeps its original question and empty response;
	// the resume is persisted as a fresh turn whose query records the
	// user's decision.
	if err := s.store.ClearPendingConfirmation(ctx, sessionID, pending.TurnNumber, userID); err != nil {
		logger.Error("failed to clear pending confirmation", "error", err)
		s.finishWithError(sink, "failed to persist turn", "")
		return
	}

	confirmQuery := confirmationQuery(resume.Approved, resume.SelectedIDs)
	turn := s.buildTurn(confirmQuery, state, opts, provider.ModelName(), tr.sources)
	saved, err := s.store.SaveTurn(ctx, sessionID, turn, userID)
	if err != nil {
		logger.Error("failed to persist resumed turn", "error", err)
		s.finishWithError(sink, "failed to persist turn", "")
		return
	}

	if outcome == outcomeCancelled {
		logger.Info("resume stream cancelled", "answer_chars", len(state.Answer))
		_ = sink(EventDone, map[string]any{})
		return
	}

	metadata := MetadataPayload{
		Query:             confirmQuery,
		ExecutionTimeMS:   time.Since(start).Milliseconds(),
		RetrievalAttempts: state.RetrievalAttempts,
		GuardrailScore:    state.Metadata.GuardrailScore,
		Provider:          opts.Provider,
		Model:             provider.ModelName(),
		SessionID:         sessionID,
		TurnNumber:        saved.TurnNumber,
		ReasoningSteps:    reasoningSteps(state),
		TraceID:           observability.TraceIDFromContext(ctx),
	}
	if state.RewrittenQuery != "" {
		metadata.RewrittenQuery = &state.RewrittenQuery
	}
	_ = sink(EventMetadata, metadata)
	_ = sink(EventDone, map[string]any{})
}

// consume translates graph events until the run ends one way or
// another. A sink failure (client gone) counts as cancellation.
func (s *StreamService) consume(ctx context.Context, events <-chan agent.Event, state *agent.AgentState, tr *translator, topK int) (streamOutcome, error) {
	for event := range events {
		// A cancel request stops the stream between events even when
		// the producer already buffered more.
		if errors.Is(context.Cause(ctx), ErrStreamCancelled) {
			return outcomeCancelled, nil
		}

		var sinkErr error

		switch event.Type {
		case agent.EventNodeStart:
			sinkErr = tr.sink(EventStatus, StatusPayload{Step: event.Node, Message: event.Message})

		case agent.EventNodeEnd:
			sinkErr = tr.sink(EventStatus, StatusPayload{Step: event.Node, Message: event.Message, Details: event.Details})
			// Sources go out once, after the evaluation that settles the
			// chunk set; a rewrite round's rejects never reach the client.
			if sinkErr == nil && event.Node == agent.NodeEvaluate && !tr.sourcesEmitted {
				if final, _ := event.Details["final"].(bool); final {
					tr.sources = sourcesFromState(state, topK)
					tr.sourcesEmitted = true
					sinkErr = tr.sink(EventSources, SourcesPayload{Sources: tr.sources})
				}
			}

		case agent.EventToolStart:
			sinkErr = tr.sink(EventStatus, StatusPayload{
				Step:    "executing",
				Message: fmt.Sprintf("Running %s", event.ToolName),
				Details: map[string]any{"tool": event.ToolName},
			})

		case agent.EventToolEnd:
			sinkErr = tr.sink(EventStatus, StatusPayload{
				Step:    "executing",
				Message: fmt.Sprintf("Finished %s", event.ToolName),
				Details: map[string]any{"tool": event.ToolName, "success": event.Success},
			})

		case agent.EventToken:
			tr.contentEmitted = true
			sinkErr = tr.sink(EventContent, ContentPayload{Token: event.Token})

		case agent.EventInterrupt:
			return outcomeInterrupted, nil

		case agent.EventError:
			if errors.Is(context.Cause(ctx), ErrStreamCancelled) || errors.Is(event.Err, ErrStreamCancelled) {
				return outcomeCancelled, event.Err
			}
			return outcomeFailed, event.Err

		case agent.EventDone:
			// The channel closes right after; fall through to range end.
		}

		if sinkErr != nil {
			return outcomeCancelled, sinkErr
		}
	}

	// The graph can drop its final event when the context is already
	// cancelled; classify from the cause instead of silently completing.
	if errors.Is(context.Cause(ctx), ErrStreamCancelled) {
		return outcomeCancelled, nil
	}
	if err := ctx.Err(); err != nil {
		return outcomeFailed, err
	}
	return outcomeCompleted, nil
}

func (s *StreamService) finishInterrupted(
	ctx context.Context,
	sink EventSink,
	state *agent.AgentState,
	userID, query string,
	opts config.StreamOptions,
	modelName, sessionID, threadID string,
	start time.Time,
	metadata MetadataPayload,
	logger *slog.Logger,
) {
	pause := state.PauseReason
	confirm := ConfirmIngestPayload{SessionID: sessionID, ThreadID: threadID}
	for _, paper := range pause.Papers {
		confirm.Papers = append(confirm.Papers, ConfirmPaper{
			ArxivID:       paper.ArxivID,
			Title:         paper.Title,
			Authors:       paper.Authors,
			Abstract:      paper.Abstract,
			PublishedDate: paper.PublishedDate,
			PDFURL:        paper.PDFURL,
		})
	}
	_ = sink(EventConfirmIngest, confirm)

	// The partial turn holds the pause snapshot; agent_response stays
	// empty until the resume request fills it.
	turn := s.buildTurn(query, state, opts, modelName, nil)
	turn.AgentResponse = ""
	turn.PendingConfirmation = &store.PendingConfirmation{
		Papers:      pause.Papers,
		Model:       modelName,
		Temperature: opts.Temperature,
		ThreadID:    threadID,
	}
	saved, err := s.store.SaveTurn(ctx, sessionID, turn, userID)
	if err != nil {
		logger.Error("failed to persist pending turn", "error", err)
		s.finishWithError(sink, "failed to persist turn", "")
		return
	}

	metadata.ExecutionTimeMS = time.Since(start).Milliseconds()
	metadata.TurnNumber = saved.TurnNumber
	_ = sink(EventMetadata, metadata)
	_ = sink(EventDone, map[string]any{})
}

// runInlineIngest executes the ingestion tool directly and reports the
// outcome. Returns false when the stream already ended.
func (s *StreamService) runInlineIngest(ctx context.Context, ids []string, sink EventSink, logger *slog.Logger) bool {
	result, err := s.tools.Execute(ctx, "ingest_papers", map[string]any{"arxiv_ids": ids})
	if err != nil {
		logger.Error("inline ingestion failed", "error", err)
		s.finishWithError(sink, fmt.Sprintf("ingestion failed: %v", err), "")
		return false
	}
	if !result.Success {
		s.finishWithError(sink, fmt.Sprintf("ingestion failed: %s", result.Error), "")
		return false
	}

	payload := IngestCompletePayload{Errors: []string{}}
	if data, ok := result.Data.(map[string]any); ok {
		payload.PapersProcessed = intField(data, "papers_processed")
		payload.ChunksCreated = intField(data, "chunks_created")
		if seconds, ok := data["duration_seconds"].(float64); ok {
			payload.DurationSeconds = seconds
		}
		if errs, ok := data["errors"].([]string); ok {
			payload.Errors = errs
		}
	}
	_ = sink(EventIngestComplete, payload)
	return true
}

func (s *StreamService) register(ctx context.Context, sessionID string, timeoutSeconds int) (context.Context, func(), func()) {
	timeoutCtx, cancelTimeout := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	runCtx, cancelCause := context.WithCancelCause(timeoutCtx)

	s.tasks.Register(sessionID, func() { cancelCause(ErrStreamCancelled) })

	cancel := func() {
		cancelCause(nil)
		cancelTimeout()
	}
	release := func() { s.tasks.Release(sessionID) }
	return runCtx, cancel, release
}

func (s *StreamService) loadHistory(ctx context.Context, sessionID, userID string, window int) ([]llms.Message, *int, error) {
	turns, err := s.store.GetHistory(ctx, sessionID, window, userID)
	if err != nil {
		return nil, nil, err
	}

	var history []llms.Message
	var lastScore *int
	for _, turn := range turns {
		history = append(history, llms.Message{Role: llms.RoleUser, Content: turn.UserQuery})
		if turn.AgentResponse != "" {
			history = append(history, llms.Message{Role: llms.RoleAssistant, Content: turn.AgentResponse})
		}
		lastScore = turn.GuardrailScore
	}
	return history, lastScore, nil
}

func (s *StreamService) buildTurn(query string, state *agent.AgentState, opts config.StreamOptions, modelName string, sources []store.SourceInfo) store.Turn {
	turn := store.Turn{
		UserQuery:         query,
		AgentResponse:     state.Answer,
		Provider:          opts.Provider,
		Model:             modelName,
		GuardrailScore:    state.Metadata.GuardrailScore,
		RetrievalAttempts: state.RetrievalAttempts,
		Sources:           sources,
		ReasoningSteps:    reasoningSteps(state),
	}
	if state.RewrittenQuery != "" {
		turn.RewrittenQuery = &state.RewrittenQuery
	}
	return turn
}

// confirmationQuery records the user's decision as the resumed turn's
// question, so the conversation log reads like the exchange it was.
func confirmationQuery(approved bool, selected []string) string {
	if !approved {
		return "Declined the proposed ingestion"
	}
	if len(selected) == 0 {
		return "Approved the proposed ingestion"
	}
	return fmt.Sprintf("Approved ingestion of: %s", strings.Join(selected, ", "))
}

func (s *StreamService) finishWithError(sink EventSink, message, code string) {
	_ = sink(EventError, ErrorPayload{Error: message, Code: code})
	_ = sink(EventDone, map[string]any{})
}

func (s *StreamService) emitRunError(sink EventSink, runErr error) {
	var timeout *llms.TimeoutError
	switch {
	case errors.As(runErr, &timeout):
		_ = sink(EventError, ErrorPayload{Error: timeout.Error(), Code: CodeTimeout})
	case errors.Is(runErr, context.DeadlineExceeded):
		_ = sink(EventError, ErrorPayload{Error: "the request timed out", Code: CodeTimeout})
	case runErr != nil:
		_ = sink(EventError, ErrorPayload{Error: runErr.Error()})
	default:
		_ = sink(EventError, ErrorPayload{Error: "the run failed"})
	}
}

// sourcesFromState projects the chunk set backing the answer into
// per-paper sources: deduped by paper, best score wins, trimmed to
// topK papers.
func sourcesFromState(state *agent.AgentState, topK int) []store.SourceInfo {
	chunks := state.RelevantChunks
	graded := len(chunks) > 0
	if !graded {
		chunks = state.RetrievedChunks
	}

	byPaper := make(map[string]*store.SourceInfo)
	var order []string
	for _, chunk := range chunks {
		if existing, ok := byPaper[chunk.ArxivID]; ok {
			if chunk.Score > existing.RelevanceScore {
				existing.RelevanceScore = chunk.Score
			}
			continue
		}
		byPaper[chunk.ArxivID] = &store.SourceInfo{
			ArxivID:           chunk.ArxivID,
			Title:             chunk.Title,
			Authors:           chunk.Authors,
			PDFURL:            chunk.PDFURL,
			RelevanceScore:    chunk.Score,
			PublishedDate:     chunk.PublishedDate,
			WasGradedRelevant: graded,
		}
		order = append(order, chunk.ArxivID)
	}

	sources := make([]store.SourceInfo, 0, len(order))
	for _, id := range order {
		sources = append(sources, *byPaper[id])
	}
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].RelevanceScore > sources[j].RelevanceScore
	})
	if len(sources) > topK {
		sources = sources[:topK]
	}
	return sources
}

func reasoningSteps(state *agent.AgentState) []string {
	if state.Metadata.ReasoningSteps == nil {
		return []string{}
	}
	return state.Metadata.ReasoningSteps
}

func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
