package helpers

import (
	"context"
	"testing"

	"github.com/xiaot623/gogo/testexec/internal/domain"
	"github.com/xiaot623/gogo/testexec/internal/repository"
)

func NewTestSQLiteStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()

	s, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// Step describes a step to seed: the runner function it calls and its raw variables.
type Step struct {
	Function string
	Order    int
	Vars     string
}

// SeedCase stores a case with steps referencing builtin keywords and returns
// its ID. A zero id lets the database assign one.
func SeedCase(t *testing.T, s *repository.SQLiteStore, id int64, name, debugVars string, steps ...Step) int64 {
	t.Helper()
	ctx := context.Background()

	c := &domain.CaseDefinition{ID: id, ProjectID: 1, Name: name, Description: name + " description", DebugVars: debugVars}
	if err := s.CreateCase(ctx, c); err != nil {
		t.Fatalf("failed to create case: %v", err)
	}
	for i, st := range steps {
		kw, err := s.GetKeywordByFunction(ctx, st.Function)
		if err != nil || kw == nil {
			t.Fatalf("unknown keyword %q: %v", st.Function, err)
		}
		step := &domain.StepDefinition{
			CaseID:       c.ID,
			Description:  st.Function,
			KeywordID:    kw.ID,
			RunOrder:     st.Order,
			RefVariables: st.Vars,
		}
		if step.RunOrder == 0 {
			step.RunOrder = i + 1
		}
		if err := s.CreateStep(ctx, step); err != nil {
			t.Fatalf("failed to create step: %v", err)
		}
	}
	return c.ID
}
