package transportutil

import (
	"github.com/golangci/repohealth/internal/shared/apperrors"
	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/gorilla/mux"
)

type HandlerRegContext struct {
	Router     *mux.Router
	Log        logutil.Log
	ErrTracker apperrors.Tracker
}
