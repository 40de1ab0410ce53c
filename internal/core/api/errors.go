package api

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/donorhub/segmentd/internal/segments"
	"github.com/donorhub/segmentd/internal/types"
)

// toStatus maps a lifecycle error onto a gRPC status. Store failures are
// logged here and reach the client only as a generic UNAVAILABLE.
func toStatus(logger *slog.Logger, method string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var convErr *segments.ConversionError
	if errors.As(err, &convErr) && convErr.Partial() {
		logger.Warn("suggestion conversion incomplete",
			"method", method,
			"suggestion_id", convErr.SuggestionID,
			"segment_id", convErr.SegmentID,
			"error", convErr.Err)
		return status.Errorf(codes.Aborted,
			"segment %s created but suggestion %s not marked accepted; retry the conversion",
			convErr.SegmentID, convErr.SuggestionID)
	}

	switch {
	case errors.Is(err, types.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, types.ErrMissingOrganization):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, types.ErrSegmentNotFound), errors.Is(err, types.ErrSuggestionNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, types.ErrStaticSegment):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, types.ErrRulesChanged):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, types.ErrSuggestionAccepted):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request deadline exceeded")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	}

	logger.Error("request failed", "method", method, "error", err)
	return status.Error(codes.Unavailable, "segment store unavailable")
}
