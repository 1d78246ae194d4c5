package domain

import "time"

// OperationType classifies keywords (for example "http" or "assert").
type OperationType struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// KeywordDefinition is a named, reusable operation a step can invoke.
type KeywordDefinition struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	FunctionName    string `json:"function_name"`
	Description     string `json:"description,omitempty"`
	OperationTypeID int64  `json:"operation_type_id"`
}

// CaseDefinition is a stored API test case.
type CaseDefinition struct {
	ID          int64     `json:"id"`
	ProjectID   int64     `json:"project_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	DebugVars   string    `json:"debug_vars,omitempty"` // raw JSON object, may be malformed
	CreatedAt   time.Time `json:"created_at"`
}

// StepDefinition is one ordered step of a case.
type StepDefinition struct {
	ID           int64  `json:"id"`
	CaseID       int64  `json:"case_id"`
	Description  string `json:"description"`
	KeywordID    int64  `json:"keyword_id"`
	RunOrder     int    `json:"run_order"`
	RefVariables string `json:"ref_variables,omitempty"` // raw JSON object, may be malformed
}

// ResolvedStep is a step joined with its keyword and operation type.
// Keyword and OperationType are nil when the referenced rows are missing.
type ResolvedStep struct {
	Step          StepDefinition
	Keyword       *KeywordDefinition
	OperationType *OperationType
}

// ResolvedCase is everything needed to materialize one case.
type ResolvedCase struct {
	Case  CaseDefinition
	Steps []ResolvedStep
}
