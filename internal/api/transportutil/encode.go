package transportutil

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/golangci/repohealth/internal/api/endpointutil"
)

const retryAfterUnavailableSec = "5"

func EncodeError(ctx context.Context, err error, w http.ResponseWriter) {
	httpErr := MakeError(err)

	if rc := endpointutil.RequestContext(ctx); rc != nil {
		if httpErr.HTTPCode == http.StatusInternalServerError {
			rc.Log.Errorf("Request failed: %s", err)
		} else {
			rc.Log.Infof("Request failed with code %d: %s", httpErr.HTTPCode, err)
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	if httpErr.HTTPCode == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterUnavailableSec)
	}
	w.WriteHeader(httpErr.HTTPCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: httpErr,
	})
}
