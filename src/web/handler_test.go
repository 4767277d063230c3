package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"releasedash/src/aggregate"
	"releasedash/src/model"
)

func testMatrix() *model.Matrix {
	builder := model.Builder{Name: "linux-x86_64", Tier: "tier-1"}
	m := model.NewMatrix([]model.Branch{"3.12"}, []model.Builder{builder}, time.Now())
	m.Set(&model.StatusCell{
		Branch:       "3.12",
		Builder:      builder,
		Outcome:      model.OutcomeFailure,
		Completeness: model.CompletenessPartial,
		Failures:     []model.TestFailure{},
	})
	return m
}

func TestServeMatrix_RendersJSON(t *testing.T) {
	h := NewHandler(func(ctx context.Context) (*model.Matrix, error) {
		return testMatrix(), nil
	}, time.Minute, nil)

	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var p struct {
		Branches []struct {
			Branch string `json:"branch"`
			Health string `json:"health"`
			Cells  []struct {
				Outcome      string `json:"outcome"`
				Completeness string `json:"completeness"`
			} `json:"cells"`
		} `json:"branches"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if len(p.Branches) != 1 || len(p.Branches[0].Cells) != 1 {
		t.Fatalf("unexpected page shape: %+v", p)
	}
	if p.Branches[0].Health != "bad" {
		t.Errorf("health = %q, want bad (tier-1 failing)", p.Branches[0].Health)
	}
	if p.Branches[0].Cells[0].Outcome != "failure" {
		t.Errorf("outcome = %q, want failure", p.Branches[0].Cells[0].Outcome)
	}
}

func TestServeMatrix_PageCacheHitSkipsSnapshot(t *testing.T) {
	calls := 0
	h := NewHandler(func(ctx context.Context) (*model.Matrix, error) {
		calls++
		return testMatrix(), nil
	}, time.Minute, nil)

	mux := h.Mux()
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/index.html", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}

	if calls != 1 {
		t.Errorf("snapshot computed %d times within page TTL, want 1", calls)
	}
}

func TestServeMatrix_RefreshBypassesPageCache(t *testing.T) {
	calls := 0
	h := NewHandler(func(ctx context.Context) (*model.Matrix, error) {
		calls++
		return testMatrix(), nil
	}, time.Minute, nil)

	mux := h.Mux()
	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/?refresh=1", nil))
	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/?refresh=yes", nil))
	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/?refresh=no", nil))

	if calls != 3 {
		t.Errorf("snapshot computed %d times, want 3 (two forced refreshes)", calls)
	}
}

func TestServeMatrix_ReferenceDataFailureIs500(t *testing.T) {
	h := NewHandler(func(ctx context.Context) (*model.Matrix, error) {
		return nil, aggregate.ErrNoReferenceData
	}, time.Minute, nil)

	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestServeMatrix_UnknownPathIs404(t *testing.T) {
	h := NewHandler(func(ctx context.Context) (*model.Matrix, error) {
		return nil, errors.New("must not be called")
	}, time.Minute, nil)

	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, httptest.NewRequest("GET", "/favicon.ico", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
