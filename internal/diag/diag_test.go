package diag

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkCollectsInOrder(t *testing.T) {
	s := NewSink()
	s.Warn("m", Span{File: "a.va", Line: 1, Col: 2}, "first %s", "warning")
	s.Error("m", Span{File: "a.va", Line: 3, Col: 4}, "then an error")

	recs := s.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, SeverityWarning, recs[0].Severity)
	assert.Equal(t, "first warning", recs[0].Message)
	assert.Equal(t, SeverityError, recs[1].Severity)

	assert.Equal(t, 1, s.ErrorCount())
	assert.True(t, s.HasErrors())
}

func TestSinkModuleRecords(t *testing.T) {
	s := NewSink()
	s.Error("alpha", Span{}, "a")
	s.Error("beta", Span{}, "b")
	s.Warn("alpha", Span{}, "c")

	alpha := s.ModuleRecords("alpha")
	require.Len(t, alpha, 2)
	assert.Equal(t, "a", alpha[0].Message)
	assert.Equal(t, "c", alpha[1].Message)
	assert.Empty(t, s.ModuleRecords("gamma"))
}

func TestSinkConcurrent(t *testing.T) {
	s := NewSink()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Error("m", Span{}, "e")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, s.ErrorCount())
	assert.Len(t, s.Records(), 800)
}

func TestRecordsReturnsCopy(t *testing.T) {
	s := NewSink()
	s.Error("m", Span{}, "original")
	recs := s.Records()
	recs[0].Message = "mutated"
	assert.Equal(t, "original", s.Records()[0].Message)
}

func TestSpanString(t *testing.T) {
	assert.Equal(t, "f.va:3:7", Span{File: "f.va", Line: 3, Col: 7}.String())
	assert.Equal(t, "3:7", Span{Line: 3, Col: 7}.String())
}

func TestRecordString(t *testing.T) {
	r := Record{Severity: SeverityError, Span: Span{File: "f.va", Line: 1, Col: 1}, Message: "boom"}
	assert.Equal(t, "f.va:1:1: error: boom", r.String())
}

func TestRecordJSONShape(t *testing.T) {
	r := Record{Severity: SeverityWarning, Span: Span{File: "f.va", Line: 2, Col: 5}, Message: "m", Module: "dio"}
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"severity":0,"span":{"file":"f.va","line":2,"col":5},"message":"m","module":"dio"}`, string(data))
}
