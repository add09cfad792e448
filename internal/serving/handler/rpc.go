package handler

import (
	"context"
	"encoding/json"
	"fmt"

	pkgerrors "github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/rpc"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/tracing"
)

// RegisterRPC exposes Classify and Info on srv.
func (h *Handler) RegisterRPC(srv *rpc.Server) {
	srv.Register(proto.MethodClassify, h.rpcClassify)
	srv.Register(proto.MethodInfo, h.rpcInfo)
}

func (h *Handler) rpcClassify(ctx context.Context, params json.RawMessage) (any, error) {
	var req proto.ClassifyRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidInput, err)
	}
	if err := h.validateText(req.Text); err != nil {
		return nil, err
	}
	clf := h.registry.Current()
	if clf == nil {
		return nil, pkgerrors.ErrNotReady
	}

	ctx, span := tracing.StartSpan(ctx, "rpc.classify", logger.RequestID(ctx))
	defer span.Finish()

	res, err := h.classify(ctx, clf, req.Text)
	if err != nil {
		logger.FromContext(ctx).Error("rpc classification failed", "error", err)
		return nil, err
	}
	out := &proto.ClassifyResponse{
		Label:         res.Label,
		CorpusVersion: res.CorpusVersion,
		CacheHit:      res.CacheHit,
		LatencyMs:     res.LatencyMs,
	}
	if req.Explain {
		out.Votes = res.Votes
		out.Neighbors = make([]proto.Neighbor, len(res.Neighbors))
		for i, n := range res.Neighbors {
			out.Neighbors[i] = proto.Neighbor{Index: n.Index, Label: n.Label, Distance: n.Distance}
		}
	}
	return out, nil
}

func (h *Handler) rpcInfo(ctx context.Context, params json.RawMessage) (any, error) {
	info, ok := h.registry.Info()
	if !ok {
		return nil, pkgerrors.ErrNotReady
	}
	return &proto.InfoResponse{
		Algorithm:     info.Algorithm,
		Level:         info.Level,
		K:             info.K,
		CorpusSize:    info.CorpusSize,
		Labels:        info.Labels,
		CorpusVersion: info.CorpusVersion,
		Source:        info.Source,
		LoadedAt:      info.LoadedAt.Unix(),
	}, nil
}
