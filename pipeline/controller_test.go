package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/utlibraries/mediacat/catalog"
	"github.com/utlibraries/mediacat/core"
	"github.com/utlibraries/mediacat/llm"
)

const e2eExtraction = `Title: Greatest Hits
Primary Contributor: Aretha Franklin
Publisher: Atlantic
Numbers: 075678264023
Publication Date: 1971
Format: CD
Tracks:
1. Respect
2. Think
3. Chain of Fools`

const e2eSelection = `1. OCLC number: 1234567
2. Confidence: 95
3. Explanation: Title, contributor, track listing and year all match.
4. Other potential good matches: none`

// scriptedLLM answers extraction requests (they carry image parts) with
// one canned reply and selection requests with another.
type scriptedLLM struct {
	onSelect func() // invoked before answering a selection request
}

func (f *scriptedLLM) Complete(ctx context.Context, req *core.LLMRequest) (*core.LLMResponse, error) {
	isExtract := false
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			if p.ImageURI != "" {
				isExtract = true
			}
		}
	}

	content := e2eSelection
	if isExtract {
		content = e2eExtraction
	} else if f.onSelect != nil {
		f.onSelect()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return &core.LLMResponse{
		ID:      req.ID,
		Content: content,
		Model:   "gpt-4o",
		Usage:   core.TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}, nil
}

// newCatalogServers fakes WorldCat (token, search, holdings) and Alma.
// The UPC query matches one candidate; Alma reports nothing held.
func newCatalogServers(t *testing.T) (worldcat, alma *httptest.Server) {
	t.Helper()
	worldcat = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "tok-1", "token_type": "Bearer", "expires_in": 3600,
			})
		case "/search/brief-bibs":
			if r.URL.Query().Get("q") != "075678264023" {
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"numberOfRecords": 0})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"numberOfRecords": 1,
				"briefRecords": []map[string]interface{}{{
					"oclcNumber":     "1234567",
					"title":          "Greatest Hits",
					"creator":        "Aretha Franklin",
					"publisher":      "Atlantic",
					"date":           "1971",
					"specificFormat": "CD",
					"trackTitles":    []string{"Respect", "Think", "Chain of Fools"},
				}},
			})
		case "/search/bibs-holdings":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"numberOfRecords": 1,
				"briefRecords": []map[string]interface{}{{
					"oclcNumber": "1234567",
					"institutionHolding": map[string]interface{}{
						"totalHoldingCount": 42,
						"briefHoldings":     []map[string]string{{"oclcSymbol": "OSU"}},
					},
				}},
			})
		}
	}))
	alma = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(almaEmptyXML))
	}))
	t.Cleanup(worldcat.Close)
	t.Cleanup(alma.Close)
	return worldcat, alma
}

func e2eManifest(t *testing.T, dir string) []ManifestEntry {
	t.Helper()
	img := filepath.Join(dir, "059173017359115a.png")
	if err := os.WriteFile(img, []byte("not a real png"), 0o644); err != nil {
		t.Fatal(err)
	}
	return []ManifestEntry{{
		Barcode: "059173017359115",
		Images:  []core.ImageRef{{Role: core.ImageFront, Path: img}},
	}}
}

func newE2EController(t *testing.T, store *FileStore, client core.LLMClient,
	worldcatURL, almaURL string) *Controller {
	t.Helper()
	cfg, err := core.NewConfig(core.WithRunID("run-e2e"))
	if err != nil {
		t.Fatal(err)
	}

	executor := llm.NewExecutor(client, nil, store, llm.NewCostLedger(nil, 0.5),
		llm.DefaultConfig(), fastDisposeRetry(), nil)
	search := catalog.NewSearchClient(core.WorldCatConfig{
		ClientID: "id", ClientSecret: "secret",
		BaseURL: worldcatURL, TokenURL: worldcatURL + "/token",
		BroadQueryThreshold: 1000, SearchLimit: 10, InstitutionSymbol: "IXA",
	}, nil, fastDisposeRetry(), nil)
	alma := catalog.NewAlmaClient(core.AlmaConfig{BaseURL: almaURL, APIKey: "test-key"},
		nil, fastDisposeRetry(), nil)

	return NewController(cfg, core.DefaultCDProfile(), store, executor, search, alma,
		nil, nil, nil)
}

func TestControllerRunEndToEnd(t *testing.T) {
	worldcat, alma := newCatalogServers(t)
	dir := t.TempDir()
	store := newTestStore(t, dir)
	manifest := e2eManifest(t, dir)

	c := newE2EController(t, store, &scriptedLLM{}, worldcat.URL, alma.URL)
	report, err := c.Run(context.Background(), manifest)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Interrupted {
		t.Fatal("run should not be interrupted")
	}
	if len(report.Stages) != 6 {
		t.Fatalf("expected 6 stage entries, got %d: %+v", len(report.Stages), report.Stages)
	}
	for _, st := range report.Stages {
		if st.Failed != 0 || st.Succeeded != 1 {
			t.Errorf("stage %s: %+v", st.Stage, st)
		}
	}

	item, err := store.Get(context.Background(), "059173017359115")
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != core.StatusStage5Done {
		t.Errorf("status = %q", item.Status)
	}
	if item.Stage1 == nil || item.Stage1.Metadata.Title != "Greatest Hits" {
		t.Errorf("stage1 = %+v", item.Stage1)
	}
	if item.Stage3 == nil || item.Stage3.SelectedOCLC != "1234567" || item.Stage3.Confidence != 95 {
		t.Errorf("stage3 = %+v", item.Stage3)
	}
	if item.Stage4 == nil || item.Stage4.FinalConfidence != 95 || item.Stage4.YearMatch != core.YearMatchEqual {
		t.Errorf("stage4 = %+v", item.Stage4)
	}
	if item.Stage5 == nil || item.Stage5.Group != core.GroupAlmaBatchUpload {
		t.Errorf("stage5 = %+v", item.Stage5)
	}
	if report.Groups[core.GroupAlmaBatchUpload] != 1 {
		t.Errorf("groups = %+v", report.Groups)
	}
}

func TestControllerInterruptAndResume(t *testing.T) {
	worldcat, alma := newCatalogServers(t)
	dir := t.TempDir()
	manifest := e2eManifest(t, dir)

	// First run: cancellation fires while the selection stage is in
	// flight. The first three stages are committed; selection is not.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := newTestStore(t, dir)
	c := newE2EController(t, store, &scriptedLLM{onSelect: cancel}, worldcat.URL, alma.URL)

	report, err := c.Run(ctx, manifest)
	if err != nil {
		t.Fatalf("interrupted run returned error: %v", err)
	}
	if !report.Interrupted {
		t.Fatal("expected an interrupted report")
	}
	item, err := store.Get(context.Background(), "059173017359115")
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != core.StatusStage2Done {
		t.Fatalf("status after interrupt = %q, want stage2_done", item.Status)
	}

	// Second run over the same directory, as a restart would see it
	store2 := newTestStore(t, dir)
	c2 := newE2EController(t, store2, &scriptedLLM{}, worldcat.URL, alma.URL)
	report2, err := c2.Run(context.Background(), manifest)
	if err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}
	if report2.Interrupted {
		t.Fatal("resumed run should complete")
	}

	// Resume re-enters at the first pending stage: selection onward
	var stages []string
	for _, st := range report2.Stages {
		stages = append(stages, st.Stage)
	}
	want := []string{"stage3", "stage4", "stage5"}
	if len(stages) != len(want) {
		t.Fatalf("resumed stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("resumed stages = %v, want %v", stages, want)
		}
	}

	item, err = store2.Get(context.Background(), "059173017359115")
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != core.StatusStage5Done {
		t.Errorf("status after resume = %q", item.Status)
	}
	if item.Stage5 == nil || item.Stage5.Group != core.GroupAlmaBatchUpload {
		t.Errorf("stage5 after resume = %+v", item.Stage5)
	}
}
