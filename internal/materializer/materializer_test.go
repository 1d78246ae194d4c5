package materializer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/xiaot623/gogo/testexec/internal/domain"
	"github.com/xiaot623/gogo/testexec/internal/logging"
)

type memStore struct {
	cases    map[int64]*domain.CaseDefinition
	steps    map[int64][]domain.StepDefinition
	keywords map[int64]*domain.KeywordDefinition
	opTypes  map[int64]*domain.OperationType
}

func (s *memStore) GetCase(_ context.Context, id int64) (*domain.CaseDefinition, error) {
	return s.cases[id], nil
}

func (s *memStore) GetStepsForCase(_ context.Context, caseID int64) ([]domain.StepDefinition, error) {
	return append([]domain.StepDefinition(nil), s.steps[caseID]...), nil
}

func (s *memStore) GetKeyword(_ context.Context, id int64) (*domain.KeywordDefinition, error) {
	return s.keywords[id], nil
}

func (s *memStore) GetOperationType(_ context.Context, id int64) (*domain.OperationType, error) {
	return s.opTypes[id], nil
}

func newStore() *memStore {
	return &memStore{
		cases: map[int64]*domain.CaseDefinition{
			42: {ID: 42, ProjectID: 1, Name: "Login API", Description: "login works", DebugVars: `{"host":"h","token":"a"}`},
			43: {ID: 43, ProjectID: 1, Name: "Login/API", DebugVars: `{"token":"b","user":"u"}`},
			44: {ID: 44, ProjectID: 1, Name: "Broken", DebugVars: `{not json`},
		},
		steps: map[int64][]domain.StepDefinition{
			42: {
				{ID: 3, CaseID: 42, Description: "check", KeywordID: 2, RunOrder: 2, RefVariables: `{"expected":"OK"}`},
				{ID: 1, CaseID: 42, Description: "call", KeywordID: 1, RunOrder: 1, RefVariables: `{"url":"/login"}`},
				{ID: 2, CaseID: 42, Description: "call again", KeywordID: 1, RunOrder: 1, RefVariables: `oops`},
			},
			44: {
				{ID: 9, CaseID: 44, Description: "ghost", KeywordID: 99, RunOrder: 1},
			},
		},
		keywords: map[int64]*domain.KeywordDefinition{
			1: {ID: 1, Name: "Send request", FunctionName: "send_request", OperationTypeID: 1},
			2: {ID: 2, Name: "Compare text", FunctionName: "assert_text_comparators", OperationTypeID: 2},
		},
		opTypes: map[int64]*domain.OperationType{
			1: {ID: 1, Name: "http"},
			2: {ID: 2, Name: "assert"},
		},
	}
}

func readYAML(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, v))
}

func TestLoadOrdersStepsStably(t *testing.T) {
	m := New(newStore(), logging.Discard())

	rc, err := m.Load(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, rc.Steps, 3)
	assert.Equal(t, int64(1), rc.Steps[0].Step.ID)
	assert.Equal(t, int64(2), rc.Steps[1].Step.ID)
	assert.Equal(t, int64(3), rc.Steps[2].Step.ID)
	assert.Equal(t, "send_request", rc.Steps[0].Keyword.FunctionName)
	assert.Equal(t, "assert", rc.Steps[2].OperationType.Name)
}

func TestLoadMissingCase(t *testing.T) {
	m := New(newStore(), logging.Discard())

	_, err := m.Load(context.Background(), 7)
	assert.ErrorIs(t, err, domain.ErrCaseNotFound)
}

func TestLoadToleratesMissingKeyword(t *testing.T) {
	m := New(newStore(), logging.Discard())

	rc, err := m.Load(context.Background(), 44)
	require.NoError(t, err)
	require.Len(t, rc.Steps, 1)
	assert.Nil(t, rc.Steps[0].Keyword)
	assert.Nil(t, rc.Steps[0].OperationType)
}

func TestWriteSingleCase(t *testing.T) {
	m := New(newStore(), logging.Discard())
	dir := t.TempDir()

	rc, err := m.Load(context.Background(), 42)
	require.NoError(t, err)
	paths, err := m.Write(rc, dir)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(dir, "Login_API.yaml"), paths[0])
	assert.Equal(t, filepath.Join(dir, ContextFile), paths[1])

	var doc caseFile
	readYAML(t, paths[0], &doc)
	assert.Equal(t, int64(42), doc.CaseID)
	assert.Equal(t, "Login API", doc.TestName)
	assert.Equal(t, "login works", doc.TestDescription)
	require.Len(t, doc.TestSteps, 3)
	assert.Equal(t, "call", doc.TestSteps[0].StepName)
	assert.Equal(t, "send_request", doc.TestSteps[0].Keyword)
	assert.Equal(t, "Send request", doc.TestSteps[0].KeywordDesc)
	assert.Equal(t, "http", doc.TestSteps[0].OperationType)
	assert.Equal(t, map[string]any{"url": "/login"}, doc.TestSteps[0].Variables)
	assert.Empty(t, doc.TestSteps[1].Variables)

	var vars map[string]any
	readYAML(t, paths[1], &vars)
	assert.Equal(t, map[string]any{"host": "h", "token": "a"}, vars)
}

func TestWriteMalformedDebugVarsYieldsEmptyContext(t *testing.T) {
	m := New(newStore(), logging.Discard())
	dir := t.TempDir()

	rc, err := m.Load(context.Background(), 44)
	require.NoError(t, err)
	paths, err := m.Write(rc, dir)
	require.NoError(t, err)

	var vars map[string]any
	readYAML(t, paths[1], &vars)
	assert.Empty(t, vars)

	var doc caseFile
	readYAML(t, paths[0], &doc)
	require.Len(t, doc.TestSteps, 1)
	assert.Empty(t, doc.TestSteps[0].Keyword)
}

func TestWriteBatchMergesContextAndAvoidsCollisions(t *testing.T) {
	m := New(newStore(), logging.Discard())
	dir := t.TempDir()

	a, err := m.Load(context.Background(), 42)
	require.NoError(t, err)
	b, err := m.Load(context.Background(), 43)
	require.NoError(t, err)

	pa, err := m.WriteCase(a, dir)
	require.NoError(t, err)
	pb, err := m.WriteCase(b, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Login_API.yaml"), pa)
	assert.Equal(t, filepath.Join(dir, "Login_API_43.yaml"), pb)

	ctxPath, err := m.WriteContext([]*domain.ResolvedCase{a, b}, dir)
	require.NoError(t, err)
	var vars map[string]any
	readYAML(t, ctxPath, &vars)
	assert.Equal(t, map[string]any{"host": "h", "token": "b", "user": "u"}, vars)
}

func TestWriteFailsWhenDirectoryMissing(t *testing.T) {
	m := New(newStore(), logging.Discard())
	rc, err := m.Load(context.Background(), 42)
	require.NoError(t, err)

	_, err = m.Write(rc, filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, domain.ErrMaterialization)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "Login_API", SanitizeName("Login API"))
	assert.Equal(t, "a_b_c", SanitizeName("a/b.c"))
	assert.Equal(t, "______", SanitizeName("../../"))
	assert.Equal(t, "", SanitizeName(""))
}

func TestWriteFallsBackToCaseIDForEmptyName(t *testing.T) {
	m := New(newStore(), logging.Discard())
	dir := t.TempDir()

	path, err := m.WriteCase(&domain.ResolvedCase{Case: domain.CaseDefinition{ID: 5}}, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "case_5.yaml"), path)
}
