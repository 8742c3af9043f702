package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeEmbedder returns a fixed vector, or err when set.
type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

// fakeStore returns a configurable candidate list and records the topK it was
// asked for.
type fakeStore struct {
	docs     []Document
	err      error
	gotTopK  int
	searched bool
}

func (f *fakeStore) Search(_ context.Context, _ []float32, topK int) ([]Document, error) {
	f.searched = true
	f.gotTopK = topK
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

func (f *fakeStore) Close() error { return nil }

// fakeReranker keeps the first topN candidates and assigns descending scores,
// or returns err when set.
type fakeReranker struct {
	err      error
	unsorted bool
	gotTopN  int
	called   bool
}

func (f *fakeReranker) Rerank(_ context.Context, _ string, candidates []Document, topN int) ([]Document, error) {
	f.called = true
	f.gotTopN = topN
	if f.err != nil {
		return nil, f.err
	}
	n := min(topN, len(candidates))
	out := make([]Document, n)
	copy(out, candidates[:n])
	for i := range out {
		out[i].Score = float32(n-i) / float32(n+1)
	}
	if f.unsorted && n > 1 {
		out[0], out[n-1] = out[n-1], out[0]
	}
	return out, nil
}

// corpusDocs builds n candidate documents with internal bucket sources.
func corpusDocs(n int) []Document {
	docs := make([]Document, n)
	for i := range docs {
		docs[i] = Document{
			ID:      fmt.Sprintf("doc-%d", i),
			Title:   "Federal Student Aid Handbook",
			Content: fmt.Sprintf("passage %d", i),
			Source:  fmt.Sprintf("s3://edu-corpus/handbook/vol%d.pdf", i),
			Page:    fmt.Sprintf("%d", i+1),
		}
	}
	return docs
}

func newTestPipeline(t *testing.T, emb Embedder, store VectorStore, rr Reranker) *Pipeline {
	t.Helper()
	p, err := NewPipeline(&PipelineConfig{Embedder: emb, Store: store, Reranker: rr})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

// ---------------------------------------------------------------------------
// Retrieve
// ---------------------------------------------------------------------------

func TestRetrieve_BoundedSortedScored(t *testing.T) {
	t.Parallel()

	store := &fakeStore{docs: corpusDocs(50)}
	rr := &fakeReranker{}
	p := newTestPipeline(t, &fakeEmbedder{}, store, rr)

	docs, err := p.Retrieve(context.Background(), "What is the Education Federal Student Aid?")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if store.gotTopK != DefaultTopK {
		t.Errorf("store topK: got %d, want %d", store.gotTopK, DefaultTopK)
	}
	if rr.gotTopN != DefaultTopN {
		t.Errorf("reranker topN: got %d, want %d", rr.gotTopN, DefaultTopN)
	}
	if len(docs) > DefaultTopN {
		t.Fatalf("result length %d exceeds top-n %d", len(docs), DefaultTopN)
	}
	for i, d := range docs {
		if d.Score < 0 || d.Score > 1 {
			t.Errorf("doc[%d] score %f outside [0,1]", i, d.Score)
		}
		if i > 0 && docs[i-1].Score < d.Score {
			t.Errorf("docs not sorted descending at %d: %f < %f", i, docs[i-1].Score, d.Score)
		}
	}
}

func TestRetrieve_NormalizesSources(t *testing.T) {
	t.Parallel()

	store := &fakeStore{docs: corpusDocs(3)}
	p := newTestPipeline(t, &fakeEmbedder{}, store, &fakeReranker{})

	docs, err := p.Retrieve(context.Background(), "fafsa deadlines")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for _, d := range docs {
		if want := "https://edu-corpus/handbook/"; d.Source[:len(want)] != want {
			t.Errorf("source not normalized: %q", d.Source)
		}
	}
}

func TestRetrieve_EmptyIndexIsNotAnError(t *testing.T) {
	t.Parallel()

	store := &fakeStore{docs: nil}
	rr := &fakeReranker{}
	p := newTestPipeline(t, &fakeEmbedder{}, store, rr)

	docs, err := p.Retrieve(context.Background(), "nothing indexed yet")
	if err != nil {
		t.Fatalf("empty index must not error: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("want empty result, got %d docs", len(docs))
	}
	if rr.called {
		t.Error("reranker must not be called for an empty candidate set")
	}
}

func TestRetrieve_ResortsMisbehavingReranker(t *testing.T) {
	t.Parallel()

	store := &fakeStore{docs: corpusDocs(10)}
	p := newTestPipeline(t, &fakeEmbedder{}, store, &fakeReranker{unsorted: true})

	docs, err := p.Retrieve(context.Background(), "pell grant")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for i := 1; i < len(docs); i++ {
		if docs[i-1].Score < docs[i].Score {
			t.Fatalf("pipeline did not re-sort: score[%d]=%f < score[%d]=%f",
				i-1, docs[i-1].Score, i, docs[i].Score)
		}
	}
}

func TestRetrieve_StageFailuresWrapAsRetrievalError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	cases := []struct {
		name      string
		emb       Embedder
		store     VectorStore
		rr        Reranker
		wantStage string
	}{
		{"embed", &fakeEmbedder{err: boom}, &fakeStore{}, &fakeReranker{}, "embed"},
		{"search", &fakeEmbedder{}, &fakeStore{err: boom}, &fakeReranker{}, "search"},
		{"rerank", &fakeEmbedder{}, &fakeStore{docs: corpusDocs(2)}, &fakeReranker{err: boom}, "rerank"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := newTestPipeline(t, tc.emb, tc.store, tc.rr)
			_, err := p.Retrieve(context.Background(), "q")
			if err == nil {
				t.Fatal("expected error")
			}
			var re *RetrievalError
			if !errors.As(err, &re) {
				t.Fatalf("expected *RetrievalError, got %T: %v", err, err)
			}
			if re.Stage != tc.wantStage {
				t.Errorf("stage: got %q, want %q", re.Stage, tc.wantStage)
			}
			if !errors.Is(err, boom) {
				t.Error("RetrievalError does not unwrap to the cause")
			}
		})
	}
}

func TestNewPipeline_RequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewPipeline(&PipelineConfig{Store: &fakeStore{}, Reranker: &fakeReranker{}}); err == nil {
		t.Error("nil embedder accepted")
	}
	if _, err := NewPipeline(&PipelineConfig{Embedder: &fakeEmbedder{}, Reranker: &fakeReranker{}}); err == nil {
		t.Error("nil store accepted")
	}
	if _, err := NewPipeline(&PipelineConfig{Embedder: &fakeEmbedder{}, Store: &fakeStore{}}); err == nil {
		t.Error("nil reranker accepted")
	}
}
