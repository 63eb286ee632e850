package transportutil

import (
	"context"
	"net/http"
	"time"

	httptransport "github.com/go-kit/kit/transport/http"
	"github.com/golangci/repohealth/internal/api/endpointutil"
	"github.com/golangci/repohealth/internal/shared/apperrors"
	"github.com/golangci/repohealth/internal/shared/logutil"
)

func MakeStoreRequestContext(log logutil.Log, et apperrors.Tracker) httptransport.RequestFunc {
	return func(ctx context.Context, r *http.Request) context.Context {
		rc := endpointutil.MakeRequestContext(ctx, log, et.WithHTTPRequest(r))
		return endpointutil.StoreRequestContext(ctx, rc)
	}
}

// FinalizeRequest is called after the response was written.
func FinalizeRequest(ctx context.Context, code int, r *http.Request) {
	rc := endpointutil.RequestContext(ctx)
	if rc == nil {
		return
	}

	rc.Log.Debugf("http", "%s %s respond %d for %s", r.Method, r.URL.Path, code, time.Since(rc.StartedAt))
}

// ServerOptions are shared by all endpoints.
func ServerOptions(regCtx *HandlerRegContext) []httptransport.ServerOption {
	return []httptransport.ServerOption{
		httptransport.ServerBefore(MakeStoreRequestContext(regCtx.Log, regCtx.ErrTracker)),
		httptransport.ServerErrorLogger(AdaptErrorLogger(regCtx.Log)),
		httptransport.ServerErrorEncoder(EncodeError),
		httptransport.ServerFinalizer(FinalizeRequest),
	}
}
