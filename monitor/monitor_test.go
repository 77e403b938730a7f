package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DariaXu/unity-soccorTwos/eval"
	"github.com/DariaXu/unity-soccorTwos/trainer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRun struct {
	state  *trainer.TrainingState
	report eval.Report
	hasRep bool
}

func (f *fakeRun) State() *trainer.TrainingState       { return f.state }
func (f *fakeRun) LastEvalReport() (eval.Report, bool) { return f.report, f.hasRep }
func (f *fakeRun) RunDir() string                      { return "/tmp/run" }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	s := New(":0", &fakeRun{state: &trainer.TrainingState{}})
	rec := get(t, s.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "true")
}

func TestStateReportsCounters(t *testing.T) {
	run := &fakeRun{state: &trainer.TrainingState{}}
	s := New(":0", run)

	rec := get(t, s.Handler(), "/state")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		GlobalStep int    `json:"global_step"`
		RunDir     string `json:"run_dir"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, 0, payload.GlobalStep)
	assert.Equal(t, "/tmp/run", payload.RunDir)
}

func TestEvalBeforeFirstPass(t *testing.T) {
	s := New(":0", &fakeRun{state: &trainer.TrainingState{}})
	rec := get(t, s.Handler(), "/eval")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvalServesLastReport(t *testing.T) {
	run := &fakeRun{state: &trainer.TrainingState{}, hasRep: true}
	run.report.Step = 50000
	run.report.Episodes = 10
	s := New(":0", run)

	rec := get(t, s.Handler(), "/eval")
	require.Equal(t, http.StatusOK, rec.Code)

	var report eval.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 50000, report.Step)
	assert.Equal(t, 10, report.Episodes)
}
