// Package archiver exports the verified audit chains of settled approval
// requests to object storage.
package archiver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avasiliu/tradegate/pkg/audit"
	"github.com/avasiliu/tradegate/pkg/types"
)

type RequestSource interface {
	ListUnarchivedTerminal(context.Context, int) ([]types.ApprovalRequest, error)
	MarkArchived(context.Context, string) error
}

type TrailSource interface {
	ChainRecords(context.Context, string) ([]audit.ChainRecord, error)
}

type Uploader interface {
	Upload(ctx context.Context, key string, body []byte) error
}

type Service struct {
	requests RequestSource
	trail    TrailSource
	uploader Uploader
}

func New(requests RequestSource, trail TrailSource, uploader Uploader) *Service {
	return &Service{requests: requests, trail: trail, uploader: uploader}
}

// Bundle is the exported artifact: one terminal request plus its complete,
// verified action chain.
type Bundle struct {
	Request      types.ApprovalRequest `json:"request"`
	CreatedAt    time.Time             `json:"created_at"`
	ActionCount  int                   `json:"action_count"`
	Checkpoint   string                `json:"checkpoint_hash"`
	ChainRecords []audit.ChainRecord   `json:"chain_records"`
}

// ArchiveRequest verifies and exports one request's chain, then marks the
// request archived. Returns the object key, or "" when the request has no
// actions to export.
func (s *Service) ArchiveRequest(ctx context.Context, req types.ApprovalRequest) (string, error) {
	records, err := s.trail.ChainRecords(ctx, req.ID)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		// A terminal request always has at least the deciding action;
		// an empty chain means the trail was tampered with or lost.
		return "", fmt.Errorf("request %s is terminal but has no audit actions", req.ID)
	}
	if err := audit.VerifyChain(records); err != nil {
		return "", fmt.Errorf("verify chain: %w", err)
	}

	last := records[len(records)-1]
	now := time.Now().UTC()
	bundle := Bundle{
		Request:      req,
		CreatedAt:    now,
		ActionCount:  len(records),
		Checkpoint:   last.Hash,
		ChainRecords: records,
	}
	body, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("marshal bundle: %w", err)
	}

	key := fmt.Sprintf("approvals/%04d/%02d/%02d/%s.json", now.Year(), now.Month(), now.Day(), req.ID)
	if err := s.uploader.Upload(ctx, key, body); err != nil {
		return "", err
	}
	if err := s.requests.MarkArchived(ctx, req.ID); err != nil {
		return "", err
	}
	return key, nil
}

// ArchiveBatch exports up to limit settled requests. Failures on one
// request do not block the rest; the first error is reported after the
// batch completes.
func (s *Service) ArchiveBatch(ctx context.Context, limit int) (int, error) {
	reqs, err := s.requests.ListUnarchivedTerminal(ctx, limit)
	if err != nil {
		return 0, err
	}

	archived := 0
	var firstErr error
	for _, req := range reqs {
		if _, err := s.ArchiveRequest(ctx, req); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("archive request %s: %w", req.ID, err)
			}
			continue
		}
		archived++
	}
	return archived, firstErr
}
