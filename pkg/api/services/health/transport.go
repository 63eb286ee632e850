package health

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-kit/kit/endpoint"
	httptransport "github.com/go-kit/kit/transport/http"
	"github.com/golangci/repohealth/internal/api/endpointutil"
	"github.com/golangci/repohealth/internal/api/transportutil"
	"github.com/golangci/repohealth/pkg/api/request"
	"github.com/golangci/repohealth/pkg/health/orchestrator"
)

type repoRequest struct {
	Repo *request.Repo
}

type runRequest struct {
	RunID *request.RunID
}

type recentRequest struct {
	Limit *request.Limit
}

func cacheHeaders(ci CacheInfo) http.Header {
	h := http.Header{}
	h.Set("X-Cache-State", string(ci.State))
	if ci.MaxAge > 0 {
		h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(ci.MaxAge.Seconds())))
	} else {
		h.Set("Cache-Control", "no-cache")
	}
	return h
}

type analysisRequestResponse struct {
	*AnalysisRequest
}

func (r analysisRequestResponse) StatusCode() int {
	if r.State == orchestrator.StateFresh {
		return http.StatusOK
	}
	return http.StatusAccepted
}

type projectHealthResponse struct {
	*ProjectHealth
}

func (r projectHealthResponse) Headers() http.Header {
	return cacheHeaders(r.Cache)
}

type recentAnalysesResponse struct {
	*RecentAnalyses
}

func (r recentAnalysesResponse) Headers() http.Header {
	return cacheHeaders(r.Cache)
}

func decodeRepoRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req repoRequest
	if err := transportutil.DecodeRequest(&req, r); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeRunRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req runRequest
	if err := transportutil.DecodeRequest(&req, r); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeRecentRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req recentRequest
	if err := transportutil.DecodeRequest(&req, r); err != nil {
		return nil, err
	}
	return req, nil
}

func makeRequestAnalysisEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, reqObj interface{}) (interface{}, error) {
		req := reqObj.(repoRequest)
		rc := endpointutil.RequestContext(ctx)
		req.Repo.FillLogContext(rc.Lctx)

		resp, err := svc.RequestAnalysis(rc, req.Repo)
		if err != nil {
			return nil, err
		}
		return analysisRequestResponse{resp}, nil
	}
}

func makeGetProjectHealthEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, reqObj interface{}) (interface{}, error) {
		req := reqObj.(repoRequest)
		rc := endpointutil.RequestContext(ctx)
		req.Repo.FillLogContext(rc.Lctx)

		resp, err := svc.GetProjectHealth(rc, req.Repo)
		if err != nil {
			return nil, err
		}
		return projectHealthResponse{resp}, nil
	}
}

func makeListRecentEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, reqObj interface{}) (interface{}, error) {
		req := reqObj.(recentRequest)
		rc := endpointutil.RequestContext(ctx)

		resp, err := svc.ListRecent(rc, req.Limit)
		if err != nil {
			return nil, err
		}
		return recentAnalysesResponse{resp}, nil
	}
}

func makeGetRunEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, reqObj interface{}) (interface{}, error) {
		req := reqObj.(runRequest)
		rc := endpointutil.RequestContext(ctx)
		req.RunID.FillLogContext(rc.Lctx)

		return svc.GetRun(rc, req.RunID)
	}
}

func RegisterHandlers(svc Service, regCtx *transportutil.HandlerRegContext) {
	options := transportutil.ServerOptions(regCtx)
	r := regCtx.Router

	r.Methods("POST").Path("/v1/repos/{owner}/{name}/health/analyses").Handler(httptransport.NewServer(
		makeRequestAnalysisEndpoint(svc), decodeRepoRequest, httptransport.EncodeJSONResponse, options...,
	))
	r.Methods("GET").Path("/v1/repos/{owner}/{name}/health").Handler(httptransport.NewServer(
		makeGetProjectHealthEndpoint(svc), decodeRepoRequest, httptransport.EncodeJSONResponse, options...,
	))

	// must be registered before the run id route
	r.Methods("GET").Path("/v1/health/analyses/recent").Handler(httptransport.NewServer(
		makeListRecentEndpoint(svc), decodeRecentRequest, httptransport.EncodeJSONResponse, options...,
	))
	r.Methods("GET").Path("/v1/health/analyses/{runid}").Handler(httptransport.NewServer(
		makeGetRunEndpoint(svc), decodeRunRequest, httptransport.EncodeJSONResponse, options...,
	))
}
