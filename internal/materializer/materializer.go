// Package materializer turns stored case definitions into the YAML artifacts
// the runner CLI consumes.
package materializer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/xiaot623/gogo/testexec/internal/domain"
)

// ContextFile is the name of the shared variable file in a run directory.
const ContextFile = "context.yaml"

// CaseStore is the read side of the persistence collaborator.
// Getters return nil, nil when the row does not exist.
type CaseStore interface {
	GetCase(ctx context.Context, id int64) (*domain.CaseDefinition, error)
	GetStepsForCase(ctx context.Context, caseID int64) ([]domain.StepDefinition, error)
	GetKeyword(ctx context.Context, id int64) (*domain.KeywordDefinition, error)
	GetOperationType(ctx context.Context, id int64) (*domain.OperationType, error)
}

// Materializer loads cases and writes their artifacts.
type Materializer struct {
	store  CaseStore
	logger *slog.Logger
}

// New creates a Materializer.
func New(store CaseStore, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{store: store, logger: logger}
}

// Load fetches a case with its steps, keywords and operation types.
// Steps are ordered by run order; ties keep storage order.
func (m *Materializer) Load(ctx context.Context, caseID int64) (*domain.ResolvedCase, error) {
	c, err := m.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("load case %d: %w", caseID, err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %d", domain.ErrCaseNotFound, caseID)
	}

	steps, err := m.store.GetStepsForCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("load steps of case %d: %w", caseID, err)
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].RunOrder < steps[j].RunOrder })

	resolved := &domain.ResolvedCase{Case: *c, Steps: make([]domain.ResolvedStep, 0, len(steps))}
	keywords := map[int64]*domain.KeywordDefinition{}
	opTypes := map[int64]*domain.OperationType{}

	for _, step := range steps {
		rs := domain.ResolvedStep{Step: step}

		kw, ok := keywords[step.KeywordID]
		if !ok {
			kw, err = m.store.GetKeyword(ctx, step.KeywordID)
			if err != nil {
				return nil, fmt.Errorf("load keyword %d: %w", step.KeywordID, err)
			}
			keywords[step.KeywordID] = kw
		}
		rs.Keyword = kw

		if kw != nil {
			op, ok := opTypes[kw.OperationTypeID]
			if !ok {
				op, err = m.store.GetOperationType(ctx, kw.OperationTypeID)
				if err != nil {
					return nil, fmt.Errorf("load operation type %d: %w", kw.OperationTypeID, err)
				}
				opTypes[kw.OperationTypeID] = op
			}
			rs.OperationType = op
		} else {
			m.logger.Warn("step references missing keyword", "case_id", caseID, "step_id", step.ID, "keyword_id", step.KeywordID)
		}

		resolved.Steps = append(resolved.Steps, rs)
	}

	return resolved, nil
}

type caseFile struct {
	CaseID          int64      `yaml:"case_id"`
	TestName        string     `yaml:"test_name"`
	TestDescription string     `yaml:"test_description"`
	TestSteps       []stepFile `yaml:"test_steps"`
}

type stepFile struct {
	StepName      string         `yaml:"step_name"`
	RunOrder      int            `yaml:"run_order"`
	Keyword       string         `yaml:"keyword"`
	KeywordDesc   string         `yaml:"keyword_desc"`
	OperationType string         `yaml:"operation_type"`
	Variables     map[string]any `yaml:"variables"`
}

// WriteCase writes the case file for rc into dir and returns its path.
// An existing file with the same sanitized name gets the case id appended.
func (m *Materializer) WriteCase(rc *domain.ResolvedCase, dir string) (string, error) {
	doc := caseFile{
		CaseID:          rc.Case.ID,
		TestName:        rc.Case.Name,
		TestDescription: rc.Case.Description,
		TestSteps:       make([]stepFile, 0, len(rc.Steps)),
	}
	for _, rs := range rc.Steps {
		sf := stepFile{
			StepName:  rs.Step.Description,
			RunOrder:  rs.Step.RunOrder,
			Variables: m.parseVars(rs.Step.RefVariables, "step", rs.Step.ID),
		}
		if rs.Keyword != nil {
			sf.Keyword = rs.Keyword.FunctionName
			sf.KeywordDesc = rs.Keyword.Name
		}
		if rs.OperationType != nil {
			sf.OperationType = rs.OperationType.Name
		}
		doc.TestSteps = append(doc.TestSteps, sf)
	}

	base := SanitizeName(rc.Case.Name)
	if base == "" {
		base = fmt.Sprintf("case_%d", rc.Case.ID)
	}
	path := filepath.Join(dir, base+".yaml")
	if _, err := os.Stat(path); err == nil {
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.yaml", base, rc.Case.ID))
	}

	if err := writeYAML(path, doc); err != nil {
		return "", err
	}
	return path, nil
}

// WriteContext merges the debug variables of every case, in order, into the
// context file of dir. Later cases win on key collisions.
func (m *Materializer) WriteContext(cases []*domain.ResolvedCase, dir string) (string, error) {
	merged := map[string]any{}
	for _, rc := range cases {
		for k, v := range m.parseVars(rc.Case.DebugVars, "case", rc.Case.ID) {
			merged[k] = v
		}
	}
	path := filepath.Join(dir, ContextFile)
	if err := writeYAML(path, merged); err != nil {
		return "", err
	}
	return path, nil
}

// Write materializes a single case into dir: its case file and its context file.
func (m *Materializer) Write(rc *domain.ResolvedCase, dir string) ([]string, error) {
	casePath, err := m.WriteCase(rc, dir)
	if err != nil {
		return nil, err
	}
	ctxPath, err := m.WriteContext([]*domain.ResolvedCase{rc}, dir)
	if err != nil {
		return nil, err
	}
	return []string{casePath, ctxPath}, nil
}

// parseVars decodes a JSON object. Empty or malformed input yields an empty map.
func (m *Materializer) parseVars(raw, owner string, id int64) map[string]any {
	vars := map[string]any{}
	if raw == "" {
		return vars
	}
	if err := json.Unmarshal([]byte(raw), &vars); err != nil || vars == nil {
		m.logger.Warn("ignoring malformed variables", "owner", owner, "id", id, "error", err)
		return map[string]any{}
	}
	return vars
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// SanitizeName replaces every character outside [a-zA-Z0-9] with '_'.
func SanitizeName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", domain.ErrMaterialization, filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrMaterialization, path, err)
	}
	return nil
}
