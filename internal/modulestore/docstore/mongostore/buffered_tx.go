package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
)

type assetScope struct{ org, course string }

// bufferedTx overlays pending writes on the collection. Commit applies them as
// idempotent writes: scope wipes, then leaf documents, then documents with children,
// then deletions, then asset documents.
type bufferedTx struct {
	base *Store

	mu           sync.Mutex
	done         bool
	pending      map[docstore.DocID]*docstore.Document
	order        []docstore.DocID
	deleted      map[docstore.DocID]bool
	wiped        map[assetScope]bool
	assets       map[assetScope]*docstore.CourseAssets
	assetDeletes map[assetScope]bool
}

func newBufferedTx(base *Store) *bufferedTx {
	return &bufferedTx{
		base:         base,
		pending:      map[docstore.DocID]*docstore.Document{},
		deleted:      map[docstore.DocID]bool{},
		wiped:        map[assetScope]bool{},
		assets:       map[assetScope]*docstore.CourseAssets{},
		assetDeletes: map[assetScope]bool{},
	}
}

func (t *bufferedTx) Begin(ctx context.Context) (docstore.Tx, error) {
	return nil, fmt.Errorf("mongostore: nested transaction")
}

func (t *bufferedTx) Close(ctx context.Context) error { return nil }

func (t *bufferedTx) Get(ctx context.Context, id docstore.DocID) (*docstore.Document, error) {
	t.mu.Lock()
	if d, ok := t.pending[norm(id)]; ok {
		t.mu.Unlock()
		return d.Clone(), nil
	}
	if t.deleted[norm(id)] || t.wiped[assetScope{id.Org, id.Course}] {
		t.mu.Unlock()
		return nil, docstore.NotFound(id)
	}
	t.mu.Unlock()
	return t.base.Get(ctx, id)
}

func (t *bufferedTx) Find(ctx context.Context, f docstore.Filter) ([]*docstore.Document, error) {
	t.mu.Lock()
	wiped := t.wiped[assetScope{f.Org, f.Course}]
	t.mu.Unlock()

	var stored []*docstore.Document
	if !wiped {
		var err error
		if stored, err = t.base.Find(ctx, f); err != nil {
			return nil, err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*docstore.Document, 0, len(stored)+len(t.pending))
	for _, d := range stored {
		id := norm(d.ID)
		if t.deleted[id] {
			continue
		}
		if _, overridden := t.pending[id]; overridden {
			continue
		}
		out = append(out, d)
	}
	for _, id := range t.order {
		if d, ok := t.pending[id]; ok && f.Matches(d) {
			out = append(out, d.Clone())
		}
	}
	docstore.SortDocuments(out)
	return out, nil
}

func (t *bufferedTx) FindCourseRoots(ctx context.Context, org, course string, fold bool) ([]*docstore.Document, error) {
	stored, err := t.base.FindCourseRoots(ctx, org, course, fold)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	match := func(d *docstore.Document) bool {
		if d.ID.Category != "course" {
			return false
		}
		switch {
		case org == "" && course == "":
			return true
		case fold:
			return docstore.FoldEqual(d.ID.Org, org) && docstore.FoldEqual(d.ID.Course, course)
		}
		return d.ID.Org == org && d.ID.Course == course
	}
	out := []*docstore.Document{}
	for _, d := range stored {
		id := norm(d.ID)
		if t.deleted[id] || t.wiped[assetScope{d.ID.Org, d.ID.Course}] {
			continue
		}
		if _, overridden := t.pending[id]; overridden {
			continue
		}
		out = append(out, d)
	}
	for _, id := range t.order {
		if d, ok := t.pending[id]; ok && match(d) {
			out = append(out, d.Clone())
		}
	}
	docstore.SortDocuments(out)
	return out, nil
}

func (t *bufferedTx) GetAssets(ctx context.Context, org, course string) (*docstore.CourseAssets, error) {
	scope := assetScope{org, course}
	t.mu.Lock()
	if a, ok := t.assets[scope]; ok {
		t.mu.Unlock()
		return cloneAssets(a), nil
	}
	if t.assetDeletes[scope] {
		t.mu.Unlock()
		return nil, nil
	}
	t.mu.Unlock()
	return t.base.GetAssets(ctx, org, course)
}

func (t *bufferedTx) Upsert(ctx context.Context, docs ...*docstore.Document) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errFinished
	}
	for _, d := range docs {
		id := norm(d.ID)
		if _, seen := t.pending[id]; !seen {
			t.order = append(t.order, id)
		}
		c := d.Clone()
		c.ID = id
		t.pending[id] = c
		delete(t.deleted, id)
	}
	return nil
}

func (t *bufferedTx) Delete(ctx context.Context, ids ...docstore.DocID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errFinished
	}
	for _, raw := range ids {
		id := norm(raw)
		delete(t.pending, id)
		t.deleted[id] = true
	}
	return nil
}

func (t *bufferedTx) DeleteScope(ctx context.Context, org, course string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errFinished
	}
	t.wiped[assetScope{org, course}] = true
	for id := range t.pending {
		if id.Org == org && id.Course == course {
			delete(t.pending, id)
		}
	}
	return nil
}

func (t *bufferedTx) SaveAssets(ctx context.Context, assets *docstore.CourseAssets) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errFinished
	}
	scope := assetScope{assets.Org, assets.Course}
	t.assets[scope] = cloneAssets(assets)
	delete(t.assetDeletes, scope)
	return nil
}

func (t *bufferedTx) DeleteAssets(ctx context.Context, org, course string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errFinished
	}
	scope := assetScope{org, course}
	delete(t.assets, scope)
	t.assetDeletes[scope] = true
	return nil
}

func (t *bufferedTx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errFinished
	}
	t.done = true

	for scope := range t.wiped {
		if err := t.base.DeleteScope(ctx, scope.org, scope.course); err != nil {
			return fmt.Errorf("mongostore: commit scope wipe: %w", err)
		}
	}
	var leaves, parents []*docstore.Document
	for _, id := range t.order {
		d, ok := t.pending[id]
		if !ok {
			continue
		}
		if len(d.Definition.Children) == 0 {
			leaves = append(leaves, d)
		} else {
			parents = append(parents, d)
		}
	}
	if err := t.base.Upsert(ctx, leaves...); err != nil {
		return fmt.Errorf("mongostore: commit leaves: %w", err)
	}
	if err := t.base.Upsert(ctx, parents...); err != nil {
		return fmt.Errorf("mongostore: commit parents: %w", err)
	}
	deletes := make([]docstore.DocID, 0, len(t.deleted))
	for id := range t.deleted {
		deletes = append(deletes, id)
	}
	if err := t.base.Delete(ctx, deletes...); err != nil {
		return fmt.Errorf("mongostore: commit deletes: %w", err)
	}
	for scope := range t.assetDeletes {
		if err := t.base.DeleteAssets(ctx, scope.org, scope.course); err != nil {
			return fmt.Errorf("mongostore: commit asset delete: %w", err)
		}
	}
	for _, a := range t.assets {
		if err := t.base.SaveAssets(ctx, a); err != nil {
			return fmt.Errorf("mongostore: commit assets: %w", err)
		}
	}
	return nil
}

func (t *bufferedTx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	t.pending = map[docstore.DocID]*docstore.Document{}
	t.order = nil
	return nil
}

var errFinished = storeerr.Wrap(storeerr.ErrInvalidArgument, "", errors.New("transaction finished"), "mongostore")

func norm(id docstore.DocID) docstore.DocID {
	if id.Tag == "" {
		id.Tag = docstore.Tag
	}
	return id
}

func cloneAssets(a *docstore.CourseAssets) *docstore.CourseAssets {
	if a == nil {
		return nil
	}
	out := &docstore.CourseAssets{Org: a.Org, Course: a.Course, Assets: make(map[string][]docstore.AssetRecord, len(a.Assets))}
	for typ, recs := range a.Assets {
		out.Assets[typ] = append([]docstore.AssetRecord(nil), recs...)
	}
	return out
}
