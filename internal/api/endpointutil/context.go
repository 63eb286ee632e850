package endpointutil

import (
	"context"
	"time"

	"github.com/golangci/repohealth/internal/shared/apperrors"
	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/golangci/repohealth/pkg/api/request"
)

type contextKey string

const contextKeyRequestContext contextKey = "endpoint/requestContext"

func RequestContext(ctx context.Context) *request.Context {
	rc := ctx.Value(contextKeyRequestContext)
	if rc == nil {
		return nil
	}
	return rc.(*request.Context)
}

func StoreRequestContext(ctx context.Context, rc *request.Context) context.Context {
	return context.WithValue(ctx, contextKeyRequestContext, rc)
}

func MakeRequestContext(ctx context.Context, log logutil.Log, et apperrors.Tracker) *request.Context {
	lctx := logutil.Context{}
	log = logutil.WrapLogWithContext(log, lctx)
	log = apperrors.WrapLogWithTracker(log, lctx, et)

	return &request.Context{
		Ctx:       ctx,
		Log:       log,
		Lctx:      lctx,
		StartedAt: time.Now(),
	}
}
