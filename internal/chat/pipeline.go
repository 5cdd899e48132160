// Package chat runs the multi-step conversational pipeline: route the
// message, reword it for search, retrieve and expand rule text, filter the
// evidence, synthesize an answer with verbatim citations, and verify the
// draft before replying. Every model call is logged to the llm_calls table.
package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/bull/ultirules/internal/llm"
	"github.com/bull/ultirules/internal/retrieve"
	"github.com/bull/ultirules/internal/rules"
	"github.com/bull/ultirules/internal/store"
)

// Call types recorded in llm_calls.
const (
	callNextStep = "next_step"
	callReword   = "reword"
	callFilter   = "filter"
	callAnswer   = "answer"
	callVerify   = "verify"
)

// Searcher is the retrieval dependency.
type Searcher interface {
	Search(ctx context.Context, query string, opts retrieve.Options) ([]store.Document, error)
}

// ConversationStore persists messages and the model-call audit log.
type ConversationStore interface {
	ConversationExists(ctx context.Context, id string) (bool, error)
	CreateConversation(ctx context.Context) (string, error)
	AddMessage(ctx context.Context, conversationID, role, content string) error
	History(ctx context.Context, conversationID string, limit int) ([]store.Message, error)
	RecordLLMCall(ctx context.Context, call store.LLMCall) error
}

// Settings tunes the pipeline.
type Settings struct {
	DefaultModel string // answer and verify
	LightModel   string // routing, rewording, filtering
	MemorySize   int    // messages of history fed to the model
	Verify       bool
	Filter       bool
	ExpandRadius int
	Search       retrieve.Options
}

// Reply is the pipeline output for one user message.
type Reply struct {
	ConversationID string
	Answer         string
	RetrievedRules []string // rule numbers cited in the final answer
}

// Pipeline wires the gateway, retriever and store into one Respond call.
type Pipeline struct {
	gateway  llm.Gateway
	searcher Searcher
	docs     retrieve.DocumentStore
	convs    ConversationStore
	settings Settings
	logger   *zap.Logger
}

// New creates a Pipeline.
func New(gateway llm.Gateway, searcher Searcher, docs retrieve.DocumentStore, convs ConversationStore, settings Settings, logger *zap.Logger) *Pipeline {
	if settings.MemorySize <= 0 {
		settings.MemorySize = 5
	}
	return &Pipeline{
		gateway:  gateway,
		searcher: searcher,
		docs:     docs,
		convs:    convs,
		settings: settings,
		logger:   logger,
	}
}

// Respond processes one user message. An empty conversationID starts a new
// conversation; an unknown one is an error.
func (p *Pipeline) Respond(ctx context.Context, conversationID, message string) (*Reply, error) {
	if conversationID == "" {
		id, err := p.convs.CreateConversation(ctx)
		if err != nil {
			return nil, err
		}
		conversationID = id
	} else {
		ok, err := p.convs.ConversationExists(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("conversation %s: %w", conversationID, store.ErrNotFound)
		}
	}

	if err := p.convs.AddMessage(ctx, conversationID, "user", message); err != nil {
		return nil, err
	}
	history, err := p.convs.History(ctx, conversationID, p.settings.MemorySize)
	if err != nil {
		return nil, err
	}
	// the inbound message is the last history entry; earlier turns are context
	if n := len(history); n > 0 {
		history = history[:n-1]
	}

	step := p.classify(ctx, conversationID, history, message)

	var (
		passages []retrieve.Passage
		ruleSet  *rules.RuleSet
		glossary *rules.Glossary
	)
	if step == "RETRIEVE" {
		passages, err = p.retrieveContext(ctx, conversationID, history, message)
		if err != nil {
			return nil, err
		}
		ruleSet, glossary = parsePassages(passages)
		if p.settings.Filter && len(passages) > 0 {
			passages = p.filter(ctx, conversationID, message, passages, ruleSet, glossary)
		}
	}

	answer, cited := p.answer(ctx, conversationID, history, message, passages, ruleSet)

	// verification checks the draft against retrieved rule text; a turn
	// answered without retrieval has nothing to check against
	if p.settings.Verify && len(passages) > 0 {
		answer = p.verify(ctx, conversationID, message, passages, answer, ruleSet, cited)
	}

	if err := p.convs.AddMessage(ctx, conversationID, "assistant", answer); err != nil {
		return nil, err
	}

	return &Reply{ConversationID: conversationID, Answer: answer, RetrievedRules: cited}, nil
}

// call invokes the gateway and records the invocation. Gateway failures
// propagate; logging failures only warn, a lost audit row must not eat a
// user-facing answer.
func (p *Pipeline) call(ctx context.Context, conversationID, callType, model string, msgs []llm.Message, schema *llm.Schema) (*llm.Result, error) {
	res, err := p.gateway.Invoke(ctx, msgs, llm.Config{Model: model, Schema: schema})
	if err != nil {
		return nil, err
	}
	if logErr := p.convs.RecordLLMCall(ctx, store.LLMCall{
		ConversationID: conversationID,
		CallType:       callType,
		Model:          model,
		Prompt:         renderPrompt(msgs),
		Response:       res.Text,
		InputTokens:    res.Usage.InputTokens,
		OutputTokens:   res.Usage.OutputTokens,
	}); logErr != nil {
		p.logger.Warn("llm call not recorded", zap.String("call_type", callType), zap.Error(logErr))
	}
	return res, nil
}

// classify decides RETRIEVE vs ANSWER. Anything unexpected, including a
// gateway failure or degraded output, falls back to ANSWER so the user
// still gets a reply.
func (p *Pipeline) classify(ctx context.Context, conversationID string, history []store.Message, message string) string {
	msgs := append(historyMessages(nextStepPrompt, history),
		llm.Message{Role: "user", Content: message})

	res, err := p.call(ctx, conversationID, callNextStep, p.settings.LightModel, msgs, nextStepSchema)
	if err != nil {
		p.logger.Warn("next step classification failed, answering without retrieval", zap.Error(err))
		return "ANSWER"
	}
	if res.Object == nil {
		return "ANSWER"
	}
	step := strings.ToUpper(strings.TrimSpace(llm.StringField(res.Object, "nextStep")))
	if step != "RETRIEVE" && step != "ANSWER" {
		p.logger.Warn("unknown next step, answering without retrieval", zap.String("next_step", step))
		return "ANSWER"
	}
	return step
}

// reword turns a follow-up into a standalone search query. "NONE" or any
// failure keeps the original message.
func (p *Pipeline) reword(ctx context.Context, conversationID string, history []store.Message, message string) string {
	if len(history) == 0 {
		return message
	}
	msgs := append(historyMessages(rewordPrompt, history),
		llm.Message{Role: "user", Content: message})

	res, err := p.call(ctx, conversationID, callReword, p.settings.LightModel, msgs, rewordSchema)
	if err != nil || res.Object == nil {
		return message
	}
	reworded := strings.TrimSpace(llm.StringField(res.Object, "rewordedQuestion"))
	if reworded == "" || strings.EqualFold(reworded, "NONE") {
		return message
	}
	return reworded
}

func (p *Pipeline) retrieveContext(ctx context.Context, conversationID string, history []store.Message, message string) ([]retrieve.Passage, error) {
	query := p.reword(ctx, conversationID, history, message)

	docs, err := p.searcher.Search(ctx, query, p.settings.Search)
	if err != nil {
		return nil, err
	}
	passages, err := retrieve.Expand(ctx, docs, p.settings.ExpandRadius, p.docs)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("retrieved context",
		zap.String("query", query),
		zap.Int("documents", len(docs)),
		zap.Int("passages", len(passages)))
	return passages, nil
}

// filter asks the model which rules and terms matter, then keeps only the
// passages containing one of them. Hallucinated numbers and terms are
// dropped by intersecting with what was actually parsed. Any failure keeps
// the full context.
func (p *Pipeline) filter(ctx context.Context, conversationID, message string, passages []retrieve.Passage, ruleSet *rules.RuleSet, glossary *rules.Glossary) []retrieve.Passage {
	msgs := []llm.Message{
		{Role: "system", Content: filterPrompt},
		{Role: "user", Content: fmt.Sprintf("Question: %s\n\nRetrieved text:\n\n%s", message, passageText(passages))},
	}
	res, err := p.call(ctx, conversationID, callFilter, p.settings.LightModel, msgs, filterSchema)
	if err != nil || res.Object == nil {
		return passages
	}

	keepRules := make(map[string]struct{})
	for _, n := range llm.StringListField(res.Object, "relevantRules") {
		n = strings.TrimSuffix(strings.TrimSpace(n), ".")
		if ruleSet.Has(n) {
			keepRules[n] = struct{}{}
		}
	}
	keepTerms := make(map[string]struct{})
	for _, t := range llm.StringListField(res.Object, "relevantTerms") {
		t = strings.TrimSpace(t)
		if glossary.Has(t) {
			keepTerms[t] = struct{}{}
		}
	}
	if len(keepRules) == 0 && len(keepTerms) == 0 {
		// model found nothing usable; better to answer from everything
		return passages
	}

	var kept []retrieve.Passage
	for _, pa := range passages {
		switch pa.Source {
		case store.SourceRules:
			ps := rules.ParseRules(pa.Content)
			matched := false
			for n := range keepRules {
				if ps.Has(n) {
					matched = true
					break
				}
			}
			if matched {
				kept = append(kept, pa)
			}
		default:
			term := strings.TrimSpace(strings.SplitN(pa.Content, "\n", 2)[0])
			if _, ok := keepTerms[term]; ok {
				kept = append(kept, pa)
			}
		}
	}
	if len(kept) == 0 {
		return passages
	}
	return kept
}

// answer synthesizes the reply. With context it cites rule numbers and
// appends their verbatim text; cited numbers missing from the retrieved
// text are logged and skipped rather than invented.
func (p *Pipeline) answer(ctx context.Context, conversationID string, history []store.Message, message string, passages []retrieve.Passage, ruleSet *rules.RuleSet) (string, []string) {
	var msgs []llm.Message
	if len(passages) > 0 {
		msgs = append(historyMessages(answerPrompt, history), llm.Message{
			Role:    "user",
			Content: fmt.Sprintf("Question: %s\n\nRule text:\n\n%s", message, passageText(passages)),
		})
	} else {
		msgs = append(historyMessages(answerNoContextPrompt, history),
			llm.Message{Role: "user", Content: message})
	}

	res, err := p.call(ctx, conversationID, callAnswer, p.settings.DefaultModel, msgs, answerSchema)
	if err != nil {
		p.logger.Error("answer synthesis failed", zap.Error(err))
		return "Sorry, I could not produce an answer. Please try again.", nil
	}
	if res.Object == nil {
		// degraded structured output: the raw text is still an answer
		return res.Text, nil
	}

	text := llm.StringField(res.Object, "answer")
	cited := p.citedRules(llm.StringListField(res.Object, "relevantRules"), ruleSet)
	return withRulesBlock(text, cited, ruleSet), cited
}

// citedRules normalizes and validates cited numbers against the parsed
// rule set, in rulebook order.
func (p *Pipeline) citedRules(cited []string, ruleSet *rules.RuleSet) []string {
	if ruleSet == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var kept []string
	for _, n := range cited {
		n = strings.TrimSuffix(strings.TrimSpace(n), ".")
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		if !ruleSet.Has(n) {
			p.logger.Warn("cited rule not in retrieved text", zap.String("rule", n))
			continue
		}
		seen[n] = struct{}{}
		kept = append(kept, n)
	}
	sort.Slice(kept, func(i, j int) bool {
		return rules.CompareNumbers(kept[i], kept[j]) < 0
	})
	return kept
}

// verify reviews the draft against the retrieved text. The rules block is
// stripped before sending, only the prose is reviewed and replaced on
// revision; the verbatim block is rebuilt from the same citations.
// Failures keep the draft.
func (p *Pipeline) verify(ctx context.Context, conversationID, message string, passages []retrieve.Passage, draft string, ruleSet *rules.RuleSet, cited []string) string {
	prose := draft
	if i := strings.Index(draft, rulesBlockMarker); i >= 0 {
		prose = draft[:i]
	}
	msgs := []llm.Message{
		{Role: "system", Content: verifyPrompt},
		{Role: "user", Content: fmt.Sprintf(
			"Question: %s\n\nRule text:\n\n%s\n\nDraft answer:\n\n%s",
			message, passageText(passages), prose)},
	}
	res, err := p.call(ctx, conversationID, callVerify, p.settings.DefaultModel, msgs, verifySchema)
	if err != nil || res.Object == nil {
		return draft
	}
	if llm.BoolField(res.Object, "isCorrect") {
		return draft
	}
	revised := strings.TrimSpace(llm.StringField(res.Object, "revisedAnswer"))
	if revised == "" {
		return draft
	}
	p.logger.Info("answer revised after verification",
		zap.String("explanation", llm.StringField(res.Object, "explanation")))
	return withRulesBlock(revised, cited, ruleSet)
}

// historyMessages converts stored turns into gateway messages under the
// given system prompt.
func historyMessages(system string, history []store.Message) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, llm.Message{Role: "system", Content: system})
	for _, m := range history {
		role := "user"
		if m.Role == "assistant" {
			role = "assistant"
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	return msgs
}

// renderPrompt flattens gateway messages for the audit log.
func renderPrompt(msgs []llm.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

func passageText(passages []retrieve.Passage) string {
	parts := make([]string, len(passages))
	for i, p := range passages {
		parts[i] = p.Content
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// rulesBlockMarker separates the answer prose from the appended verbatim
// rule text.
const rulesBlockMarker = "\n\nRelevant rules:\n"

// withRulesBlock appends the verbatim text of cited rules to the answer.
func withRulesBlock(answer string, cited []string, ruleSet *rules.RuleSet) string {
	if len(cited) == 0 || ruleSet == nil {
		return answer
	}
	var b strings.Builder
	b.WriteString(answer)
	b.WriteString(rulesBlockMarker)
	for _, n := range cited {
		body, err := ruleSet.Lookup(n)
		if err != nil {
			continue
		}
		b.WriteString("\n")
		b.WriteString(body)
		b.WriteString("\n")
	}
	return b.String()
}

// parsePassages builds the rule set and glossary from expanded passages.
func parsePassages(passages []retrieve.Passage) (*rules.RuleSet, *rules.Glossary) {
	var rulesText, glossaryText strings.Builder
	for _, p := range passages {
		if p.Source == store.SourceGlossary {
			glossaryText.WriteString(p.Content)
			glossaryText.WriteString("\n\n")
		} else {
			rulesText.WriteString(p.Content)
			rulesText.WriteString("\n")
		}
	}
	return rules.ParseRules(rulesText.String()), rules.ParseGlossary(glossaryText.String())
}
