package sharedtest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"
)

// Repositories served by the fake github.
const (
	ActiveOwner     = "golangci"
	ActiveRepo      = "golangci-lint"
	AbandonedOwner  = "golangci"
	AbandonedRepo   = "abandoned"
	MissingOwner    = "golangci"
	MissingRepo     = "missing"
	fakeCommitCount = 12
)

func writeJSON(w http.ResponseWriter, format string, args ...interface{}) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, format, args...)
}

func githubTime(d time.Duration) string {
	return time.Now().Add(-d).UTC().Format(time.RFC3339)
}

func serveCommits(w http.ResponseWriter, r *http.Request, lastCommitAge time.Duration, recent int) {
	if r.URL.Query().Get("since") == "" {
		writeJSON(w, `[{"sha":"head","commit":{"committer":{"date":%q}}}]`, githubTime(lastCommitAge))
		return
	}

	var commits []string
	for i := 0; i < recent; i++ {
		commits = append(commits, fmt.Sprintf(`{"sha":"c%d"}`, i))
	}
	writeJSON(w, "[%s]", strings.Join(commits, ","))
}

func notFound(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNotFound)
	writeJSON(w, `{"message":"Not Found"}`)
}

func newFakeGithubServer() *httptest.Server {
	const day = 24 * time.Hour

	mux := http.NewServeMux()

	active := fmt.Sprintf("/repos/%s/%s", ActiveOwner, ActiveRepo)
	mux.HandleFunc(active, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"default_branch":"master","size":100,"pushed_at":%q,"has_issues":false}`, githubTime(2*day))
	})
	mux.HandleFunc(active+"/", func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.URL.Path, active) {
		case "/commits":
			serveCommits(w, r, 2*day, fakeCommitCount)
		case "/releases/latest":
			writeJSON(w, `{"id":1,"published_at":%q}`, githubTime(30*day))
		case "/pulls":
			writeJSON(w, `[]`)
		default:
			notFound(w)
		}
	})

	abandoned := fmt.Sprintf("/repos/%s/%s", AbandonedOwner, AbandonedRepo)
	mux.HandleFunc(abandoned, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"default_branch":"master","size":100,"pushed_at":%q,"has_issues":false}`, githubTime(400*day))
	})
	mux.HandleFunc(abandoned+"/", func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.URL.Path, abandoned) {
		case "/commits":
			serveCommits(w, r, 400*day, 0)
		case "/pulls":
			writeJSON(w, `[]`)
		default:
			notFound(w)
		}
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		notFound(w)
	})

	return httptest.NewServer(mux)
}
