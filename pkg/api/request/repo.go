package request

import (
	"github.com/golangci/repohealth/internal/api/apierrors"
	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/golangci/repohealth/pkg/health/models"
	"github.com/pkg/errors"
)

type Repo struct {
	Owner string `request:",urlPart,"`
	Name  string `request:",urlPart,"`
}

func (r Repo) FillLogContext(lctx logutil.Context) {
	lctx["repo"] = r.Owner + "/" + r.Name
}

func (r Repo) Key() (models.RepositoryKey, error) {
	key, err := models.NewRepositoryKey(r.Owner, r.Name)
	if err != nil {
		return models.RepositoryKey{}, errors.Wrap(apierrors.ErrBadRequest, err.Error())
	}

	return key, nil
}

type RunID struct {
	RunID string `request:"runid,urlPart,"`
}

func (r RunID) FillLogContext(lctx logutil.Context) {
	lctx["run_id"] = r.RunID
}

type Limit struct {
	Limit int `request:",urlParam,optional"`
}
