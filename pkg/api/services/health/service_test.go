package health

import (
	"context"
	"testing"

	"github.com/golangci/repohealth/internal/api/apierrors"
	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/golangci/repohealth/pkg/api/request"
	"github.com/golangci/repohealth/pkg/health/orchestrator"
	"github.com/golangci/repohealth/pkg/health/runlock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type stubRequester struct {
	handle *orchestrator.RunHandle
	err    error
}

func (r stubRequester) RequestAnalysis(ctx context.Context, owner, project string) (*orchestrator.RunHandle, error) {
	return r.handle, r.err
}

func testRequestContext() *request.Context {
	return &request.Context{
		Ctx: context.Background(),
		Log: logutil.NewStderrLog("test"),
	}
}

func TestRequestAnalysisReportsUnavailableLockStorage(t *testing.T) {
	lockErr := errors.Wrapf(runlock.ErrUnavailable, "can't acquire lock of golangci/golangci-lint")
	svc := BasicService{Requester: stubRequester{err: errors.Wrap(lockErr, "orchestrator")}}

	_, err := svc.RequestAnalysis(testRequestContext(), &request.Repo{Owner: "golangci", Name: "golangci-lint"})
	assert.Equal(t, apierrors.ErrServiceUnavailable, err)
}

func TestRequestAnalysisWrapsOtherErrors(t *testing.T) {
	storeErr := errors.New("connection reset")
	svc := BasicService{Requester: stubRequester{err: storeErr}}

	_, err := svc.RequestAnalysis(testRequestContext(), &request.Repo{Owner: "golangci", Name: "golangci-lint"})
	assert.Equal(t, storeErr, errors.Cause(err))
}

func TestRequestAnalysisRejectsBadRepo(t *testing.T) {
	svc := BasicService{Requester: stubRequester{}}

	_, err := svc.RequestAnalysis(testRequestContext(), &request.Repo{Owner: "", Name: "golangci-lint"})
	assert.Equal(t, apierrors.ErrBadRequest, errors.Cause(err))
}

func TestRequestAnalysisReturnsHandleState(t *testing.T) {
	svc := BasicService{Requester: stubRequester{handle: &orchestrator.RunHandle{
		RunID: "6c1a0a6e-7b0c-4d2a-9a7e-3f1d2b3c4d5e",
		State: orchestrator.StateInProgress,
	}}}

	ret, err := svc.RequestAnalysis(testRequestContext(), &request.Repo{Owner: "golangci", Name: "golangci-lint"})
	assert.NoError(t, err)
	assert.Equal(t, orchestrator.StateInProgress, ret.State)
	assert.Equal(t, "6c1a0a6e-7b0c-4d2a-9a7e-3f1d2b3c4d5e", ret.RunID)
	assert.Nil(t, ret.Run)
}
