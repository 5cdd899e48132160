package chat

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bull/ultirules/internal/llm"
	"github.com/bull/ultirules/internal/retrieve"
	"github.com/bull/ultirules/internal/store"
)

// fakeGateway replays scripted results keyed by schema name and records the
// messages of the most recent call per schema.
type fakeGateway struct {
	t        *testing.T
	scripts  map[string][]*llm.Result
	calls    []string
	lastMsgs map[string][]llm.Message
}

func (f *fakeGateway) Invoke(ctx context.Context, messages []llm.Message, cfg llm.Config) (*llm.Result, error) {
	require.NotNil(f.t, cfg.Schema, "pipeline calls always carry a schema")
	name := cfg.Schema.Name
	f.calls = append(f.calls, name)
	if f.lastMsgs == nil {
		f.lastMsgs = make(map[string][]llm.Message)
	}
	f.lastMsgs[name] = messages
	queue := f.scripts[name]
	require.NotEmpty(f.t, queue, "unexpected %s call", name)
	res := queue[0]
	f.scripts[name] = queue[1:]
	return res, nil
}

func (f *fakeGateway) InvokeStream(ctx context.Context, messages []llm.Message, cfg llm.Config, sink func(string)) (*llm.Result, error) {
	f.t.Fatal("pipeline must not stream")
	return nil, nil
}

func object(fields map[string]any) *llm.Result {
	return &llm.Result{Object: fields, Usage: llm.Usage{InputTokens: 10, OutputTokens: 5}}
}

// fakeConvs is an in-memory ConversationStore.
type fakeConvs struct {
	messages map[string][]store.Message
	llmCalls []store.LLMCall
	nextID   int
}

func newFakeConvs() *fakeConvs {
	return &fakeConvs{messages: make(map[string][]store.Message)}
}

func (f *fakeConvs) ConversationExists(ctx context.Context, id string) (bool, error) {
	_, ok := f.messages[id]
	return ok, nil
}

func (f *fakeConvs) CreateConversation(ctx context.Context) (string, error) {
	f.nextID++
	id := fmt.Sprintf("conv-%d", f.nextID)
	f.messages[id] = nil
	return id, nil
}

func (f *fakeConvs) AddMessage(ctx context.Context, conversationID, role, content string) error {
	f.messages[conversationID] = append(f.messages[conversationID], store.Message{
		ConversationID: conversationID, Role: role, Content: content,
	})
	return nil
}

func (f *fakeConvs) History(ctx context.Context, conversationID string, limit int) ([]store.Message, error) {
	msgs := f.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (f *fakeConvs) RecordLLMCall(ctx context.Context, call store.LLMCall) error {
	f.llmCalls = append(f.llmCalls, call)
	return nil
}

// fakeSearcher returns a fixed result set and counts invocations.
type fakeSearcher struct {
	docs     []store.Document
	searches int
	lastQ    string
}

func (f *fakeSearcher) Search(ctx context.Context, query string, opts retrieve.Options) ([]store.Document, error) {
	f.searches++
	f.lastQ = query
	return f.docs, nil
}

// fakeFetch satisfies retrieve.DocumentStore for expansion.
type fakeFetch struct {
	docs map[int64]store.Document
}

func (f *fakeFetch) FTSSearch(ctx context.Context, query string, limit int) ([]int64, error) {
	return nil, nil
}

func (f *fakeFetch) DocumentsByIDs(ctx context.Context, ids []int64) ([]store.Document, error) {
	var out []store.Document
	sorted := append([]int64(nil), ids...)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j] < sorted[i] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	for _, id := range sorted {
		if d, ok := f.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

var callahanCorpus = map[int64]store.Document{
	14: {ID: 14, Content: "14.A. A goal is scored when an offensive player catches a legal pass in the end zone.", Source: store.SourceRules},
	15: {ID: 15, Content: "14.B. If a player intercepts a pass in the end zone they are attacking, it is a goal for the intercepting team.", Source: store.SourceRules},
	16: {ID: 16, Content: "14.C. The goal line is not part of the end zone.", Source: store.SourceRules},
	30: {ID: 30, Content: "Callahan\nA goal scored by intercepting the disc in the end zone the intercepting player is attacking.", Source: store.SourceGlossary},
}

func newTestPipeline(t *testing.T, gw *fakeGateway, searcher *fakeSearcher) (*Pipeline, *fakeConvs) {
	convs := newFakeConvs()
	p := New(gw, searcher, &fakeFetch{docs: callahanCorpus}, convs, Settings{
		DefaultModel: "gpt-4o",
		LightModel:   "gpt-4o-mini",
		MemorySize:   5,
		Verify:       true,
		Filter:       true,
		ExpandRadius: 1,
	}, zap.NewNop())
	return p, convs
}

func TestRespondRetrievalFlow(t *testing.T) {
	gw := &fakeGateway{t: t, scripts: map[string][]*llm.Result{
		"next_step": {object(map[string]any{"nextStep": "RETRIEVE"})},
		"filter": {object(map[string]any{
			"relevantRules": []any{"14.B"},
			"relevantTerms": []any{"Callahan"},
		})},
		"answer": {object(map[string]any{
			"answer":        "Yes, that is called a Callahan and it scores a goal for the intercepting team.",
			"relevantRules": []any{"14.B"},
		})},
		"verify": {object(map[string]any{
			"isCorrect": true, "revisedAnswer": nil, "explanation": "matches the rule text",
		})},
	}}
	searcher := &fakeSearcher{docs: []store.Document{callahanCorpus[15], callahanCorpus[30]}}
	p, convs := newTestPipeline(t, gw, searcher)

	reply, err := p.Respond(context.Background(), "", "what is a callahan?")
	require.NoError(t, err)

	assert.Equal(t, 1, searcher.searches)
	assert.Contains(t, reply.Answer, "Callahan")
	assert.Contains(t, reply.Answer, "Relevant rules:")
	// verbatim rule text, not a paraphrase
	assert.Contains(t, reply.Answer, "14.B. If a player intercepts a pass")
	assert.Equal(t, []string{"14.B"}, reply.RetrievedRules)

	// first message in a fresh conversation: no reword call
	assert.Equal(t, []string{"next_step", "filter", "answer", "verify"}, gw.calls)

	// audit log has one row per call with the rendered prompt and usage
	require.Len(t, convs.llmCalls, 4)
	assert.Equal(t, "next_step", convs.llmCalls[0].CallType)
	assert.Equal(t, int64(10), convs.llmCalls[0].InputTokens)
	assert.Contains(t, convs.llmCalls[0].Prompt, "what is a callahan?")

	// both turns persisted
	msgs := convs.messages[reply.ConversationID]
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, reply.Answer, msgs[1].Content)
}

func TestRespondFollowUpRewords(t *testing.T) {
	gw := &fakeGateway{t: t, scripts: map[string][]*llm.Result{
		"next_step": {
			object(map[string]any{"nextStep": "ANSWER"}),
			object(map[string]any{"nextStep": "RETRIEVE"}),
		},
		"answer": {
			object(map[string]any{"answer": "Hello! Ask me about the rules.", "relevantRules": []any{}}),
			object(map[string]any{"answer": "A Callahan scores immediately.", "relevantRules": []any{"14.B"}}),
		},
		"reword": {object(map[string]any{"rewordedQuestion": "does a callahan score a goal immediately?"})},
		"filter": {object(map[string]any{"relevantRules": []any{"14.B"}, "relevantTerms": []any{}})},
		"verify": {object(map[string]any{"isCorrect": true, "revisedAnswer": nil, "explanation": "ok"})},
	}}
	searcher := &fakeSearcher{docs: []store.Document{callahanCorpus[15]}}
	p, _ := newTestPipeline(t, gw, searcher)

	reply, err := p.Respond(context.Background(), "", "hi there")
	require.NoError(t, err)
	assert.Zero(t, searcher.searches)

	_, err = p.Respond(context.Background(), reply.ConversationID, "does it score immediately?")
	require.NoError(t, err)
	require.Equal(t, 1, searcher.searches)
	assert.Equal(t, "does a callahan score a goal immediately?", searcher.lastQ)
}

func TestRespondRewordNoneKeepsOriginal(t *testing.T) {
	gw := &fakeGateway{t: t, scripts: map[string][]*llm.Result{
		"next_step": {
			object(map[string]any{"nextStep": "ANSWER"}),
			object(map[string]any{"nextStep": "RETRIEVE"}),
		},
		"answer": {
			object(map[string]any{"answer": "Hi.", "relevantRules": []any{}}),
			object(map[string]any{"answer": "See 14.B.", "relevantRules": []any{"14.B"}}),
		},
		"reword": {object(map[string]any{"rewordedQuestion": "NONE"})},
		"filter": {object(map[string]any{"relevantRules": []any{"14.B"}, "relevantTerms": []any{}})},
		"verify": {object(map[string]any{"isCorrect": true, "revisedAnswer": nil, "explanation": "ok"})},
	}}
	searcher := &fakeSearcher{docs: []store.Document{callahanCorpus[15]}}
	p, _ := newTestPipeline(t, gw, searcher)

	reply, err := p.Respond(context.Background(), "", "hello")
	require.NoError(t, err)
	_, err = p.Respond(context.Background(), reply.ConversationID, "what is a callahan?")
	require.NoError(t, err)
	assert.Equal(t, "what is a callahan?", searcher.lastQ)
}

func TestRespondUnknownStepAnswersDirectly(t *testing.T) {
	gw := &fakeGateway{t: t, scripts: map[string][]*llm.Result{
		"next_step": {object(map[string]any{"nextStep": "LOOKUP"})},
		"answer":    {object(map[string]any{"answer": "Happy to help.", "relevantRules": []any{}})},
	}}
	searcher := &fakeSearcher{}
	p, _ := newTestPipeline(t, gw, searcher)

	reply, err := p.Respond(context.Background(), "", "thanks!")
	require.NoError(t, err)
	assert.Zero(t, searcher.searches)
	assert.Equal(t, "Happy to help.", reply.Answer)
	assert.Equal(t, []string{"next_step", "answer"}, gw.calls)
}

func TestRespondDropsHallucinatedCitations(t *testing.T) {
	gw := &fakeGateway{t: t, scripts: map[string][]*llm.Result{
		"next_step": {object(map[string]any{"nextStep": "RETRIEVE"})},
		"filter":    {object(map[string]any{"relevantRules": []any{"14.B", "99.Z"}, "relevantTerms": []any{}})},
		"answer": {object(map[string]any{
			"answer":        "It scores a goal.",
			"relevantRules": []any{"99.Z", "14.B"},
		})},
		"verify": {object(map[string]any{"isCorrect": true, "revisedAnswer": nil, "explanation": "ok"})},
	}}
	searcher := &fakeSearcher{docs: []store.Document{callahanCorpus[15]}}
	p, _ := newTestPipeline(t, gw, searcher)

	reply, err := p.Respond(context.Background(), "", "what is a callahan?")
	require.NoError(t, err)
	assert.Equal(t, []string{"14.B"}, reply.RetrievedRules)
	assert.NotContains(t, reply.Answer, "99.Z")
	assert.Contains(t, reply.Answer, "14.B. If a player intercepts")
}

func TestRespondVerifyRevisesProse(t *testing.T) {
	gw := &fakeGateway{t: t, scripts: map[string][]*llm.Result{
		"next_step": {object(map[string]any{"nextStep": "RETRIEVE"})},
		"filter":    {object(map[string]any{"relevantRules": []any{"14.B"}, "relevantTerms": []any{}})},
		"answer": {object(map[string]any{
			"answer":        "No, play continues after an interception in the end zone.",
			"relevantRules": []any{"14.B"},
		})},
		"verify": {object(map[string]any{
			"isCorrect":     false,
			"revisedAnswer": "Yes, intercepting in the end zone you attack is an immediate goal.",
			"explanation":   "the draft contradicts 14.B",
		})},
	}}
	searcher := &fakeSearcher{docs: []store.Document{callahanCorpus[15]}}
	p, _ := newTestPipeline(t, gw, searcher)

	reply, err := p.Respond(context.Background(), "", "does a callahan score?")
	require.NoError(t, err)
	assert.Contains(t, reply.Answer, "immediate goal")
	assert.NotContains(t, reply.Answer, "play continues")
	// rules block survives the revision
	assert.Contains(t, reply.Answer, "14.B. If a player intercepts")
}

func TestRespondVerifySeesProseWithoutRulesBlock(t *testing.T) {
	gw := &fakeGateway{t: t, scripts: map[string][]*llm.Result{
		"next_step": {object(map[string]any{"nextStep": "RETRIEVE"})},
		"filter":    {object(map[string]any{"relevantRules": []any{"14.B"}, "relevantTerms": []any{}})},
		"answer": {object(map[string]any{
			"answer":        "Yes, it is an immediate goal.",
			"relevantRules": []any{"14.B"},
		})},
		"verify": {object(map[string]any{"isCorrect": true, "revisedAnswer": nil, "explanation": "ok"})},
	}}
	searcher := &fakeSearcher{docs: []store.Document{callahanCorpus[15]}}
	p, _ := newTestPipeline(t, gw, searcher)

	reply, err := p.Respond(context.Background(), "", "does a callahan score?")
	require.NoError(t, err)
	assert.Contains(t, reply.Answer, "Relevant rules:")

	// the verifier reviews the prose, not the appended verbatim block
	msgs := gw.lastMsgs["verify"]
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "Yes, it is an immediate goal.")
	assert.NotContains(t, msgs[1].Content, "Relevant rules:")
}

func TestRespondDegradedAnswerUsesRawText(t *testing.T) {
	gw := &fakeGateway{t: t, scripts: map[string][]*llm.Result{
		"next_step": {object(map[string]any{"nextStep": "ANSWER"})},
		"answer":    {{Text: "plain text that failed schema parsing", Degraded: true}},
	}}
	p, _ := newTestPipeline(t, gw, &fakeSearcher{})

	reply, err := p.Respond(context.Background(), "", "hello")
	require.NoError(t, err)
	assert.Equal(t, "plain text that failed schema parsing", reply.Answer)
}

func TestRespondUnknownConversation(t *testing.T) {
	gw := &fakeGateway{t: t, scripts: map[string][]*llm.Result{}}
	p, _ := newTestPipeline(t, gw, &fakeSearcher{})

	_, err := p.Respond(context.Background(), "missing-conversation", "hi")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
