package chat

import "github.com/bull/ultirules/internal/llm"

var nextStepSchema = &llm.Schema{
	Name: "next_step",
	Fields: []llm.Field{
		{Name: "nextStep", Type: llm.FieldString, Description: "RETRIEVE or ANSWER"},
	},
}

var rewordSchema = &llm.Schema{
	Name: "reword",
	Fields: []llm.Field{
		{Name: "rewordedQuestion", Type: llm.FieldString, Description: "standalone question, or NONE"},
	},
}

var filterSchema = &llm.Schema{
	Name: "filter",
	Fields: []llm.Field{
		{Name: "relevantRules", Type: llm.FieldStringList, Description: "rule numbers from the retrieved text"},
		{Name: "relevantTerms", Type: llm.FieldStringList, Description: "defined terms from the retrieved text"},
	},
}

var answerSchema = &llm.Schema{
	Name: "answer",
	Fields: []llm.Field{
		{Name: "answer", Type: llm.FieldString, Description: "the answer to the user"},
		{Name: "relevantRules", Type: llm.FieldStringList, Description: "rule numbers cited"},
	},
}

var verifySchema = &llm.Schema{
	Name: "verify",
	Fields: []llm.Field{
		{Name: "isCorrect", Type: llm.FieldBool, Description: "whether the draft is accurate"},
		{Name: "revisedAnswer", Type: llm.FieldNullableStr, Description: "corrected answer when isCorrect is false"},
		{Name: "explanation", Type: llm.FieldString, Description: "brief rationale"},
	},
}
