package implementations

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/golangci/repohealth/internal/shared/providers/provider"
	"github.com/golangci/repohealth/pkg/health/models"
	"github.com/google/go-github/github"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// Check the struct is implementing the MetricsProvider interface.
var _ provider.MetricsProvider = &Github{}

const GithubProviderName = "github.com"

const (
	githubPerPage          = 100
	maxCountedPages        = 10
	commitVolumeWindow     = 90 * 24 * time.Hour
	resolutionSampleClosed = 100
)

type Github struct {
	accessToken string
	baseURL     *url.URL
	log         logutil.Log
	now         func() time.Time
}

func NewGithub(accessToken string, log logutil.Log) *Github {
	return &Github{
		accessToken: accessToken,
		log:         log,
		now:         time.Now,
	}
}

func (p Github) Name() string {
	return GithubProviderName
}

func (p *Github) SetBaseURL(s string) error {
	if !strings.HasSuffix(s, "/") {
		s += "/"
	}

	baseURL, err := url.Parse(s)
	if err != nil {
		return errors.Wrap(err, "failed to parse url")
	}

	p.baseURL = baseURL
	return nil
}

func (p Github) client(ctx context.Context) *github.Client {
	var c *github.Client
	if p.accessToken == "" {
		c = github.NewClient(nil)
	} else {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{
				AccessToken: p.accessToken,
			},
		)
		c = github.NewClient(oauth2.NewClient(ctx, ts))
	}

	if p.baseURL != nil {
		c.BaseURL = p.baseURL
	}

	return c
}

func (p Github) unwrapError(err error) error {
	switch er := err.(type) {
	case *github.ErrorResponse:
		if er.Response != nil {
			switch er.Response.StatusCode {
			case http.StatusNotFound:
				return provider.ErrNotFound
			case http.StatusUnauthorized:
				return provider.ErrUnauthorized
			case http.StatusForbidden, http.StatusUnprocessableEntity:
				return provider.NewPermanentError(err)
			}
		}
		return provider.NewTransientError(err)
	case *github.RateLimitError, *github.AbuseRateLimitError:
		return provider.NewTransientError(err)
	}

	return err
}

func (p Github) daysSince(t time.Time) int {
	days := int(p.now().Sub(t) / (24 * time.Hour))
	if days < 0 {
		return 0
	}
	return days
}

func (p Github) FetchMetrics(ctx context.Context, key models.RepositoryKey) (*models.MetricsPayload, error) {
	c := p.client(ctx)

	repo, _, err := c.Repositories.Get(ctx, key.Owner, key.Project)
	if err != nil {
		return nil, errors.Wrapf(p.unwrapError(err), "failed to get repo %s", key)
	}

	var ret models.MetricsPayload
	steps := []struct {
		name string
		f    func(ctx context.Context, c *github.Client, key models.RepositoryKey, repo *github.Repository, ret *models.MetricsPayload) error
	}{
		{"commits", p.fetchCommitSignals},
		{"release", p.fetchReleaseSignals},
		{"pull requests", p.fetchPullRequestSignals},
		{"issues", p.fetchIssueSignals},
	}
	for _, s := range steps {
		if err := s.f(ctx, c, key, repo, &ret); err != nil {
			return nil, errors.Wrapf(p.unwrapError(errors.Cause(err)), "failed to fetch %s of %s", s.name, key)
		}
	}

	p.log.Infof("Fetched metrics of %s: %s", key, describeMetrics(&ret))
	return &ret, nil
}

func (p Github) fetchCommitSignals(ctx context.Context, c *github.Client, key models.RepositoryKey,
	repo *github.Repository, ret *models.MetricsPayload) error {

	if repo.GetSize() == 0 && repo.GetPushedAt().IsZero() {
		// empty repository: no commits at all
		ret.CommitsLast90Days = models.IntPtr(0)
		return nil
	}

	opts := &github.CommitsListOptions{
		SHA:         repo.GetDefaultBranch(),
		ListOptions: github.ListOptions{PerPage: 1},
	}
	latest, _, err := c.Repositories.ListCommits(ctx, key.Owner, key.Project, opts)
	if err != nil {
		if er, ok := err.(*github.ErrorResponse); ok && er.Response != nil && er.Response.StatusCode == http.StatusConflict {
			// 409 is returned for empty repositories
			ret.CommitsLast90Days = models.IntPtr(0)
			return nil
		}
		return err
	}
	if len(latest) != 0 {
		ret.DaysSinceLastCommit = models.IntPtr(p.daysSince(latest[0].GetCommit().GetCommitter().GetDate()))
	}

	opts = &github.CommitsListOptions{
		SHA:         repo.GetDefaultBranch(),
		Since:       p.now().Add(-commitVolumeWindow),
		ListOptions: github.ListOptions{PerPage: githubPerPage},
	}
	n := 0
	for page := 0; page < maxCountedPages; page++ {
		commits, resp, err := c.Repositories.ListCommits(ctx, key.Owner, key.Project, opts)
		if err != nil {
			return err
		}
		n += len(commits)
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	ret.CommitsLast90Days = models.IntPtr(n)

	return nil
}

func (p Github) fetchReleaseSignals(ctx context.Context, c *github.Client, key models.RepositoryKey,
	_ *github.Repository, ret *models.MetricsPayload) error {

	release, _, err := c.Repositories.GetLatestRelease(ctx, key.Owner, key.Project)
	if err != nil {
		if p.unwrapError(err) == provider.ErrNotFound {
			return nil // no releases
		}
		return err
	}

	publishedAt := release.GetPublishedAt().Time
	if publishedAt.IsZero() {
		publishedAt = release.GetCreatedAt().Time
	}
	if !publishedAt.IsZero() {
		ret.DaysSinceLastRelease = models.IntPtr(p.daysSince(publishedAt))
	}

	return nil
}

func (p Github) fetchPullRequestSignals(ctx context.Context, c *github.Client, key models.RepositoryKey,
	_ *github.Repository, ret *models.MetricsPayload) error {

	opts := &github.PullRequestListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: githubPerPage},
	}
	n := 0
	for page := 0; page < maxCountedPages; page++ {
		pulls, resp, err := c.PullRequests.List(ctx, key.Owner, key.Project, opts)
		if err != nil {
			return err
		}
		n += len(pulls)
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	ret.OpenPRsCount = models.IntPtr(n)

	return nil
}

func (p Github) fetchIssueSignals(ctx context.Context, c *github.Client, key models.RepositoryKey,
	repo *github.Repository, ret *models.MetricsPayload) error {

	if !repo.GetHasIssues() {
		return nil
	}

	// open_issues_count of a repository includes open pull requests
	openIssues := repo.GetOpenIssuesCount()
	if ret.OpenPRsCount != nil {
		openIssues -= *ret.OpenPRsCount
	}
	if openIssues < 0 {
		openIssues = 0
	}

	query := fmt.Sprintf("repo:%s/%s type:issue", key.Owner, key.Project)
	res, _, err := c.Search.Issues(ctx, query, &github.SearchOptions{ListOptions: github.ListOptions{PerPage: 1}})
	if err != nil {
		return err
	}
	if total := res.GetTotal(); total > 0 {
		percent := float64(openIssues) / float64(total)
		ret.OpenIssuesPercent = models.FloatPtr(math.Min(percent, 1))
	} else {
		ret.OpenIssuesPercent = models.FloatPtr(0)
	}

	closed, _, err := c.Issues.ListByRepo(ctx, key.Owner, key.Project, &github.IssueListByRepoOptions{
		State:       "closed",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: resolutionSampleClosed},
	})
	if err != nil {
		return err
	}

	var resolutionDays []float64
	for _, issue := range closed {
		if issue.IsPullRequest() || issue.ClosedAt == nil || issue.CreatedAt == nil {
			continue
		}
		d := issue.ClosedAt.Sub(*issue.CreatedAt)
		if d < 0 {
			continue
		}
		resolutionDays = append(resolutionDays, d.Hours()/24)
	}
	if len(resolutionDays) != 0 {
		ret.MedianIssueResolutionDays = models.FloatPtr(median(resolutionDays))
	}

	return nil
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func describeMetrics(m *models.MetricsPayload) string {
	var parts []string
	addInt := func(name string, v *int) {
		if v != nil {
			parts = append(parts, fmt.Sprintf("%s=%d", name, *v))
		}
	}
	addFloat := func(name string, v *float64) {
		if v != nil {
			parts = append(parts, fmt.Sprintf("%s=%.2f", name, *v))
		}
	}

	addInt("daysSinceLastCommit", m.DaysSinceLastCommit)
	addInt("commitsLast90Days", m.CommitsLast90Days)
	addInt("daysSinceLastRelease", m.DaysSinceLastRelease)
	addFloat("openIssuesPercent", m.OpenIssuesPercent)
	addFloat("medianIssueResolutionDays", m.MedianIssueResolutionDays)
	addInt("openPrsCount", m.OpenPRsCount)

	return strings.Join(parts, " ")
}
