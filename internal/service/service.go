// Package service exposes the operations of a replica's object store to the
// API and the command line.
package service

import (
	"context"

	"go.uber.org/zap"

	"asisaid.cn/versync/internal/common/errors"
	"asisaid.cn/versync/internal/common/logger"
	"asisaid.cn/versync/internal/peer"
	"asisaid.cn/versync/internal/version/manager"
	"asisaid.cn/versync/internal/version/model"
	"asisaid.cn/versync/internal/version/store"
)

// Quiescer holds back local mutations while a merge runs.
type Quiescer interface {
	Pause()
	Resume()
}

// MetadataService handles metadata operations of one replica.
type MetadataService struct {
	store    *store.ObjectStore
	peers    *peer.Registry
	ignore   []string
	quiescer Quiescer
	newPeer  func(baseURL string) manager.Source
	logger   *zap.Logger
}

// NewMetadataService creates a service for st. Sync skips the ignore
// patterns; MergePeers merges with every peer in peers.
func NewMetadataService(st *store.ObjectStore, peers, ignore []string) *MetadataService {
	return &MetadataService{
		store:   st,
		peers:   peer.NewRegistry(peers),
		ignore:  ignore,
		newPeer: func(baseURL string) manager.Source { return peer.New(baseURL) },
		logger:  logger.WithRoot("MetadataService", st.RootDir()),
	}
}

// SetQuiescer registers q to be paused for the duration of every merge.
func (s *MetadataService) SetQuiescer(q Quiescer) {
	s.quiescer = q
}

// Store returns the underlying object store.
func (s *MetadataService) Store() *store.ObjectStore {
	return s.store
}

// Peers returns the registry of the configured peers.
func (s *MetadataService) Peers() *peer.Registry {
	return s.peers
}

// Index returns a snapshot of the index.
func (s *MetadataService) Index(ctx context.Context) (*model.Index, error) {
	return s.store.ObjectManager().GetIndex(ctx)
}

// Object returns the record stored under hash.
func (s *MetadataService) Object(ctx context.Context, hash string) (*model.PathObject, error) {
	return s.store.ObjectManager().GetObject(ctx, hash)
}

// Path returns the record of a relative path.
func (s *MetadataService) Path(ctx context.Context, path string) (*model.PathObject, error) {
	return s.store.ObjectManager().GetObjectForPath(ctx, path)
}

// Children returns the records below a relative path; the empty path
// lists every record.
func (s *MetadataService) Children(ctx context.Context, path string) ([]*model.PathObject, error) {
	return s.store.ObjectManager().GetChildren(ctx, path)
}

// Sync rescans the root. Extra ignore patterns are added to the
// configured ones.
func (s *MetadataService) Sync(ctx context.Context, ignore ...string) error {
	patterns := append(append([]string{}, s.ignore...), ignore...)
	return s.store.Sync(ctx, patterns)
}

// SyncFile records a single path again from scratch.
func (s *MetadataService) SyncFile(ctx context.Context, path string) error {
	return s.store.SyncFile(ctx, path)
}

// Merge merges the metadata of the peer at baseURL into the local store.
func (s *MetadataService) Merge(ctx context.Context, baseURL string) (*store.MergeResult, error) {
	if baseURL == "" {
		return nil, errors.E("MetadataService.Merge", errors.ErrInvalidInput, nil, "peer address is required")
	}
	result, err := s.MergeSource(ctx, s.newPeer(baseURL))
	if err != nil {
		s.peers.RecordFailure(baseURL, err)
		return nil, err
	}
	s.peers.RecordSuccess(baseURL, true)
	return result, nil
}

// MergeSource merges any metadata source into the local store.
func (s *MetadataService) MergeSource(ctx context.Context, source manager.Source) (*store.MergeResult, error) {
	if s.quiescer != nil {
		s.quiescer.Pause()
		defer s.quiescer.Resume()
	}
	return s.store.Merge(ctx, source)
}

// MergePeers merges every configured peer in turn. A peer that fails is
// logged and left out of the results.
func (s *MetadataService) MergePeers(ctx context.Context) map[string]*store.MergeResult {
	urls := s.peers.URLs()
	results := make(map[string]*store.MergeResult, len(urls))
	for _, p := range urls {
		result, err := s.Merge(ctx, p)
		if err != nil {
			s.logger.Error("failed to merge peer", zap.String("peer", p), zap.Error(err))
			continue
		}
		results[p] = result
	}
	return results
}

// Share grants username access to path.
func (s *MetadataService) Share(ctx context.Context, path, username, access string) error {
	accessType, err := model.ParseAccessType(access)
	if err != nil {
		return errors.E("MetadataService.Share", errors.ErrInvalidInput, err)
	}
	return s.store.SharerManager().AddSharer(ctx, username, accessType, path)
}

// Unshare revokes the access of username to path.
func (s *MetadataService) Unshare(ctx context.Context, path, username string) error {
	return s.store.SharerManager().RemoveSharer(ctx, username, path)
}

// SetOwner sets the owner of path; an empty owner removes it.
func (s *MetadataService) SetOwner(ctx context.Context, path, owner string) error {
	if owner == "" {
		return s.store.SharerManager().RemoveOwner(ctx, path)
	}
	return s.store.SharerManager().AddOwner(ctx, owner, path)
}

// Clear drops every record.
func (s *MetadataService) Clear(ctx context.Context) error {
	s.logger.Warn("clearing object store")
	return s.store.ObjectManager().Clear(ctx)
}
