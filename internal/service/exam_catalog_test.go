package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
)

type fakeSource struct {
	views map[model.ExamRef]*model.ExamView
	loads int
}

func (f *fakeSource) LoadView(_ context.Context, ref model.ExamRef) (*model.ExamView, error) {
	f.loads++
	v, ok := f.views[ref]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return v, nil
}

func (f *fakeSource) ListLiveRefs(context.Context) ([]model.ExamRef, error) {
	refs := make([]model.ExamRef, 0, len(f.views))
	for ref := range f.views {
		refs = append(refs, ref)
	}
	return refs, nil
}

type fakeViewCache struct {
	views   map[model.ExamRef]*model.ExamView
	readErr error
}

func (f *fakeViewCache) Get(_ context.Context, ref model.ExamRef) (*model.ExamView, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	v, ok := f.views[ref]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return v, nil
}

func (f *fakeViewCache) Set(_ context.Context, v *model.ExamView) error {
	f.views[v.Ref] = v
	return nil
}

func (f *fakeViewCache) Delete(_ context.Context, ref model.ExamRef) error {
	delete(f.views, ref)
	return nil
}

func TestExamCatalog(t *testing.T) {
	view, _, _ := twoChoiceExam()
	ctx := context.Background()
	source := &fakeSource{views: map[model.ExamRef]*model.ExamView{view.Ref: view}}
	cache := &fakeViewCache{views: map[model.ExamRef]*model.ExamView{}}
	catalog := NewExamCatalog(source, cache, zerolog.Nop())

	for range 3 {
		got, err := catalog.Get(ctx, view.Ref)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.TotalMarks != 10 {
			t.Errorf("total marks = %v", got.TotalMarks)
		}
	}
	if source.loads != 1 {
		t.Errorf("source loads = %d, want 1", source.loads)
	}

	cache.readErr = errors.New("redis: connection refused")
	if _, err := catalog.Get(ctx, view.Ref); err != nil {
		t.Fatalf("Get with broken cache: %v", err)
	}
	if source.loads != 2 {
		t.Errorf("broken cache did not fall through to source")
	}
	cache.readErr = nil

	if _, err := catalog.Get(ctx, model.DirectExam(uuid.New())); !errors.Is(err, ErrExamNotFound) {
		t.Errorf("unknown exam err = %v", err)
	}
	if _, err := catalog.Get(ctx, model.ExamRef{}); !errors.Is(err, ErrExamNotFound) {
		t.Errorf("zero ref err = %v", err)
	}

	if _, err := catalog.Refresh(ctx, view.Ref); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if source.loads != 4 {
		t.Errorf("refresh did not reload, loads = %d", source.loads)
	}

	cache.views = map[model.ExamRef]*model.ExamView{}
	if err := catalog.Prewarm(ctx); err != nil {
		t.Fatalf("Prewarm: %v", err)
	}
	if _, ok := cache.views[view.Ref]; !ok {
		t.Error("prewarm did not populate the cache")
	}
}
