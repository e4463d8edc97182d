package upstream

import (
	"context"
	"errors"
	"reflect"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/coursestore-backend/internal/blocktypes"
	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore"
	"github.com/yungbote/coursestore-backend/internal/observability"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
)

// BlockStore is the part of the module store the link service writes through.
type BlockStore interface {
	Registry() *blocktypes.Registry
	RunBulk(ctx context.Context, course keys.CourseKey, fn func(ctx context.Context) error) error
	GetItem(ctx context.Context, key keys.UsageKey, branch keys.Branch, depth int) (*modulestore.Block, error)
	UpdateItem(ctx context.Context, b *modulestore.Block, user string) (*modulestore.Block, error)
	CreateChild(ctx context.Context, user string, parent keys.UsageKey, blockType, blockID string, fields map[string]any, position *int) (*modulestore.Block, error)
	DeleteItem(ctx context.Context, key keys.UsageKey, user string, mode modulestore.DeleteMode) error
}

type SyncOptions struct {
	// DeleteRemovedChildren drops downstream children of a container link whose
	// upstream is no longer among the library container's children.
	DeleteRemovedChildren bool
}

type LinkService interface {
	GetForBlock(ctx context.Context, user string, b *modulestore.Block) (*Link, error)
	TryGetForBlock(ctx context.Context, user string, b *modulestore.Block) *Link
	SyncFromUpstream(ctx context.Context, user string, key keys.UsageKey, opts SyncOptions) (*modulestore.Block, error)
	FetchCustomizableFields(ctx context.Context, user string, key keys.UsageKey) (*modulestore.Block, error)
	DeclineSync(ctx context.Context, user string, key keys.UsageKey) (*modulestore.Block, error)
	SeverUpstreamLink(ctx context.Context, user string, key keys.UsageKey) (*modulestore.Block, error)
}

type linkService struct {
	log   *logger.Logger
	store BlockStore
	libs  LibraryService
	reg   *blocktypes.Registry
}

func NewLinkService(store BlockStore, libs LibraryService, baseLog *logger.Logger) LinkService {
	return &linkService{
		log:   baseLog.With("service", "LinkService"),
		store: store,
		libs:  libs,
		reg:   store.Registry(),
	}
}

// resolved is a link plus the upstream field values it was computed from.
type resolved struct {
	link   *Link
	fields map[string]any
}

func (s *linkService) resolve(ctx context.Context, user string, b *modulestore.Block) (*resolved, error) {
	ref := b.Text("upstream")
	if ref == "" {
		return nil, linkErr(ErrNoUpstream, nil, "%s is not linked to upstream content", b.Key)
	}
	uk, err := keys.ParseUpstream(ref)
	if err != nil {
		return nil, linkErr(ErrBadUpstream, err, "Reference to linked library item is malformed: %s", ref)
	}
	link := &Link{UpstreamRef: ref, UpstreamKey: uk}
	if v, ok := b.Int("upstream_version"); ok {
		link.VersionSynced = &v
	}
	if v, ok := b.Int("upstream_version_declined"); ok {
		link.VersionDeclined = &v
	}

	out := &resolved{link: link}
	switch k := uk.(type) {
	case keys.LibraryUsageKey:
		if b.Type.HasChildren {
			return nil, linkErr(ErrBadDownstream, nil, "Content type not supported for sync: %s has children", b.Key.BlockType)
		}
		if k.BlockType != b.Key.BlockType {
			return nil, linkErr(ErrBadUpstream, nil, "Content type mismatch: %s (%s) can not be linked to %s (%s)", b.Key, b.Key.BlockType, ref, k.BlockType)
		}
		lb, err := s.libs.GetBlock(ctx, user, k)
		if err != nil {
			return nil, libraryErr(ref, err)
		}
		link.VersionAvailable = lb.PublishedVersion
		out.fields = lb.Fields
	case keys.LibraryContainerKey:
		want, ok := s.reg.DownstreamTypeFor(k.ContainerType)
		if !ok || want != b.Key.BlockType {
			return nil, linkErr(ErrBadUpstream, nil, "Content type mismatch: %s (%s) can not be linked to %s (%s)", b.Key, b.Key.BlockType, ref, k.ContainerType)
		}
		lc, err := s.libs.GetContainer(ctx, user, k)
		if err != nil {
			return nil, libraryErr(ref, err)
		}
		link.VersionAvailable = lc.PublishedVersion
		out.fields = map[string]any{}
		for name, v := range lc.Fields {
			out.fields[name] = v
		}
		if lc.DisplayName != "" {
			out.fields["display_name"] = lc.DisplayName
		}
	}
	return out, nil
}

func libraryErr(ref string, err error) error {
	if errors.Is(err, storeerr.ErrNotFound) {
		return linkErr(ErrBadUpstream, err, "Linked library item was not found in the system: %s", ref)
	}
	if errors.Is(err, storeerr.ErrPermissionDenied) {
		return linkErr(ErrBadUpstream, err, "Linked library item could not be read: %s", ref)
	}
	return err
}

func (s *linkService) GetForBlock(ctx context.Context, user string, b *modulestore.Block) (*Link, error) {
	r, err := s.resolve(ctx, user, b)
	if err != nil {
		return nil, err
	}
	return r.link, nil
}

// TryGetForBlock never fails: a broken link comes back with ErrorMessage set and no
// available version. Blocks without an upstream yield nil.
func (s *linkService) TryGetForBlock(ctx context.Context, user string, b *modulestore.Block) *Link {
	link, err := s.GetForBlock(ctx, user, b)
	if err == nil {
		return link
	}
	if errors.Is(err, ErrNoUpstream) {
		return nil
	}
	s.log.Debug("upstream link unavailable", "usage_key", b.Key.String(), "error", err)
	out := &Link{UpstreamRef: b.Text("upstream"), ErrorMessage: err.Error()}
	if uk, perr := keys.ParseUpstream(out.UpstreamRef); perr == nil {
		out.UpstreamKey = uk
	}
	if v, ok := b.Int("upstream_version"); ok {
		out.VersionSynced = &v
	}
	if v, ok := b.Int("upstream_version_declined"); ok {
		out.VersionDeclined = &v
	}
	return out
}

func (s *linkService) SyncFromUpstream(ctx context.Context, user string, key keys.UsageKey, opts SyncOptions) (_ *modulestore.Block, err error) {
	ctx, span := startSpan(ctx, "SyncFromUpstream", key)
	defer func() { observability.EndSpan(span, err) }()
	var out *modulestore.Block
	err = s.store.RunBulk(ctx, key.Course, func(ctx context.Context) error {
		b, err := s.sync(ctx, user, key, opts)
		out = b
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("synced from upstream", "usage_key", key.String(), "upstream", out.Text("upstream"))
	return out, nil
}

func (s *linkService) sync(ctx context.Context, user string, key keys.UsageKey, opts SyncOptions) (*modulestore.Block, error) {
	b, err := s.store.GetItem(ctx, key, keys.BranchDraft, 0)
	if err != nil {
		return nil, err
	}
	r, err := s.resolve(ctx, user, b)
	if err != nil {
		return nil, err
	}
	if err := s.mergeCustomizable(b, r.fields, false); err != nil {
		return nil, err
	}
	if err := s.mergeFields(b, r.fields); err != nil {
		return nil, err
	}
	if r.link.VersionAvailable != nil {
		if err := b.Set("upstream_version", *r.link.VersionAvailable); err != nil {
			return nil, err
		}
	}
	if ck, ok := r.link.UpstreamKey.(keys.LibraryContainerKey); ok {
		if err := s.syncChildren(ctx, user, b, ck, opts); err != nil {
			return nil, err
		}
	}
	return s.store.UpdateItem(ctx, b, user)
}

// mergeCustomizable refreshes every mirror field and, unless onlyFetch, takes the
// upstream value for fields the author has not changed since the last fetch.
func (s *linkService) mergeCustomizable(b *modulestore.Block, upstream map[string]any, onlyFetch bool) error {
	for name, mirror := range s.reg.Customizable() {
		if mirror == "" {
			continue
		}
		if _, ok := b.Type.Field(name); !ok {
			continue
		}
		next := upstream[name]
		prev := b.Field(mirror)
		if err := setOrClear(b, mirror, next); err != nil {
			return linkErr(ErrBadUpstream, err, "Upstream value for %s is invalid", name)
		}
		if onlyFetch {
			continue
		}
		if !reflect.DeepEqual(b.Field(name), prev) {
			continue
		}
		if err := setOrClear(b, name, next); err != nil {
			return linkErr(ErrBadUpstream, err, "Upstream value for %s is invalid", name)
		}
	}
	return nil
}

// mergeFields overwrites every syncable field that is not customizable.
func (s *linkService) mergeFields(b *modulestore.Block, upstream map[string]any) error {
	customizable := s.reg.Customizable()
	for _, name := range b.Type.FieldNames(blocktypes.ScopeContent, blocktypes.ScopeSettings) {
		if _, ok := customizable[name]; ok {
			continue
		}
		if f, _ := b.Type.Field(name); f.NoSync {
			continue
		}
		if err := setOrClear(b, name, upstream[name]); err != nil {
			return linkErr(ErrBadUpstream, err, "Upstream value for %s is invalid", name)
		}
	}
	return nil
}

func setOrClear(b *modulestore.Block, name string, v any) error {
	if v == nil {
		return b.Clear(name)
	}
	return b.Set(name, v)
}

// syncChildren creates downstream children for upstream children that have none yet
// and syncs each new one. Children are appended to b in upstream order.
func (s *linkService) syncChildren(ctx context.Context, user string, b *modulestore.Block, ck keys.LibraryContainerKey, opts SyncOptions) error {
	children, err := s.libs.GetContainerChildren(ctx, user, ck, true)
	if err != nil {
		return libraryErr(ck.String(), err)
	}
	linked := map[string]keys.UsageKey{}
	for _, c := range b.Children() {
		cb, err := s.store.GetItem(ctx, c, keys.BranchDraft, 0)
		if storeerr.IsNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}
		if ref := cb.Text("upstream"); ref != "" {
			linked[ref] = c
		}
	}

	wanted := map[string]bool{}
	for _, uc := range children {
		wanted[uc.Ref] = true
		if _, ok := linked[uc.Ref]; ok {
			continue
		}
		blockType, err := s.downstreamType(uc.Ref)
		if err != nil {
			return err
		}
		created, err := s.store.CreateChild(ctx, user, b.Key, blockType, "", map[string]any{"upstream": uc.Ref}, nil)
		if err != nil {
			return err
		}
		b.SetChildren(append(b.Children(), created.Key))
		if _, err := s.sync(ctx, user, created.Key, opts); err != nil {
			return err
		}
	}

	if !opts.DeleteRemovedChildren {
		return nil
	}
	for ref, c := range linked {
		if wanted[ref] {
			continue
		}
		if err := s.store.DeleteItem(ctx, c, user, modulestore.DeleteDraft); err != nil {
			return err
		}
		remaining := make([]keys.UsageKey, 0, len(b.Children()))
		for _, k := range b.Children() {
			if k != c {
				remaining = append(remaining, k)
			}
		}
		b.SetChildren(remaining)
	}
	return nil
}

func (s *linkService) downstreamType(ref string) (string, error) {
	uk, err := keys.ParseUpstream(ref)
	if err != nil {
		return "", linkErr(ErrBadUpstream, err, "Reference to linked library item is malformed: %s", ref)
	}
	switch k := uk.(type) {
	case keys.LibraryUsageKey:
		return k.BlockType, nil
	case keys.LibraryContainerKey:
		if t, ok := s.reg.DownstreamTypeFor(k.ContainerType); ok {
			return t, nil
		}
		return "", linkErr(ErrBadUpstream, nil, "Container type not supported for sync: %s", k.ContainerType)
	}
	return "", linkErr(ErrBadUpstream, nil, "Reference to linked library item is malformed: %s", ref)
}

func (s *linkService) FetchCustomizableFields(ctx context.Context, user string, key keys.UsageKey) (_ *modulestore.Block, err error) {
	ctx, span := startSpan(ctx, "FetchCustomizableFields", key)
	defer func() { observability.EndSpan(span, err) }()
	var out *modulestore.Block
	err = s.store.RunBulk(ctx, key.Course, func(ctx context.Context) error {
		b, err := s.store.GetItem(ctx, key, keys.BranchDraft, 0)
		if err != nil {
			return err
		}
		r, err := s.resolve(ctx, user, b)
		if err != nil {
			return err
		}
		if err := s.mergeCustomizable(b, r.fields, true); err != nil {
			return err
		}
		out, err = s.store.UpdateItem(ctx, b, user)
		return err
	})
	return out, err
}

func (s *linkService) DeclineSync(ctx context.Context, user string, key keys.UsageKey) (_ *modulestore.Block, err error) {
	ctx, span := startSpan(ctx, "DeclineSync", key)
	defer func() { observability.EndSpan(span, err) }()
	var out *modulestore.Block
	err = s.store.RunBulk(ctx, key.Course, func(ctx context.Context) error {
		b, err := s.store.GetItem(ctx, key, keys.BranchDraft, 0)
		if err != nil {
			return err
		}
		link, err := s.GetForBlock(ctx, user, b)
		if err != nil {
			return err
		}
		if err := setOrClear(b, "upstream_version_declined", intOrNil(link.VersionAvailable)); err != nil {
			return err
		}
		out, err = s.store.UpdateItem(ctx, b, user)
		return err
	})
	return out, err
}

// SeverUpstreamLink turns a linked block into a plain copy. Blocks without an upstream
// are returned unchanged.
func (s *linkService) SeverUpstreamLink(ctx context.Context, user string, key keys.UsageKey) (_ *modulestore.Block, err error) {
	ctx, span := startSpan(ctx, "SeverUpstreamLink", key)
	defer func() { observability.EndSpan(span, err) }()
	var out *modulestore.Block
	severed := ""
	err = s.store.RunBulk(ctx, key.Course, func(ctx context.Context) error {
		b, err := s.store.GetItem(ctx, key, keys.BranchDraft, 0)
		if err != nil {
			return err
		}
		ref := b.Text("upstream")
		if ref == "" {
			out = b
			return nil
		}
		severed = ref
		if err := b.Set("copied_from_block", ref); err != nil {
			return err
		}
		cleared := append([]string{"upstream", "upstream_version", "upstream_version_declined"}, s.reg.MirrorFields()...)
		for _, name := range cleared {
			if err := b.Clear(name); err != nil {
				return err
			}
		}
		out, err = s.store.UpdateItem(ctx, b, user)
		return err
	})
	if err == nil && severed != "" {
		s.log.Info("severed upstream link", "usage_key", key.String(), "copied_from_block", severed)
	}
	return out, err
}

func startSpan(ctx context.Context, op string, key keys.UsageKey) (context.Context, trace.Span) {
	return observability.StartSpan(ctx, "upstream."+op, attribute.String("usage_key", key.String()))
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
