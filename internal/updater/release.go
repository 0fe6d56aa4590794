package updater

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lc5900/flamingo-downloader/internal/apperr"
)

// candidateRepos are tried in order until one yields a release with a
// compatible asset. aria2 itself is the primary source; forks that
// ship prebuilt static binaries for more platforms are fallbacks.
var candidateRepos = []string{
	"aria2/aria2",
	"abcfy2/aria2-static-build",
	"P3TERX/aria2-builder",
}

const recentReleaseScanLimit = 30

// Asset is one downloadable file attached to a GitHub release.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

// Release is the subset of the GitHub releases API response used here.
type Release struct {
	TagName string  `json:"tag_name"`
	Draft   bool    `json:"draft"`
	Assets  []Asset `json:"assets"`
}

const defaultAPIBase = "https://api.github.com"

// Client talks to the GitHub REST API, optionally rewriting download
// (not API) URLs through a CDN, and optionally authenticating.
type Client struct {
	HTTPClient *http.Client
	CDN        string // prefix, or a template containing "{url}"
	Token      string
	APIBase    string // overridable in tests; defaults to defaultAPIBase
}

func NewClient(cdn, token string) *Client {
	return &Client{HTTPClient: &http.Client{Timeout: 15 * time.Second}, CDN: cdn, Token: token, APIBase: defaultAPIBase}
}

func (c *Client) apiBase() string {
	if c.APIBase == "" {
		return defaultAPIBase
	}
	return c.APIBase
}

func (c *Client) apiRequest(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "flamingo-downloader-updater")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return c.HTTPClient.Do(req)
}

// LatestRelease fetches a single repo's latest non-draft release.
func (c *Client) LatestRelease(repo string) (*Release, error) {
	resp, err := c.apiRequest(fmt.Sprintf("%s/repos/%s/releases/latest", c.apiBase(), repo))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github releases/latest %s: status %d", repo, resp.StatusCode)
	}
	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

// RecentReleases fetches up to recentReleaseScanLimit releases, newest
// first, used as a fallback when the latest release has no compatible asset.
func (c *Client) RecentReleases(repo string) ([]Release, error) {
	resp, err := c.apiRequest(fmt.Sprintf("%s/repos/%s/releases?per_page=%d", c.apiBase(), repo, recentReleaseScanLimit))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github releases %s: status %d", repo, resp.StatusCode)
	}
	var releases []Release
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, err
	}
	return releases, nil
}

// ResolveAsset walks candidateRepos in order, first trying each repo's
// latest release and then (only on no compatible asset) its recent
// release history, returning the first scored asset found.
func (c *Client) ResolveAsset() (repo string, release *Release, asset *Asset, err error) {
	var lastErr error
	for _, repo := range candidateRepos {
		rel, ferr := c.LatestRelease(repo)
		if ferr != nil {
			lastErr = ferr
			continue
		}
		if a := SelectBestAsset(rel.Assets); a != nil {
			return repo, rel, a, nil
		}

		releases, ferr := c.RecentReleases(repo)
		if ferr != nil {
			lastErr = ferr
			continue
		}
		for _, r := range releases {
			if r.Draft {
				continue
			}
			if a := SelectBestAsset(r.Assets); a != nil {
				rr := r
				return repo, &rr, a, nil
			}
		}
	}
	if lastErr != nil {
		return "", nil, nil, apperr.EngineUnavailablef("resolve engine release: %v", lastErr)
	}
	return "", nil, nil, apperr.EngineUnavailablef("no compatible engine asset found in any candidate repository")
}

// downloadURL returns the CDN-wrapped form of rawURL when a CDN is
// configured, for use only on asset downloads (never API calls).
func (c *Client) downloadURL(rawURL string) string {
	if c.CDN == "" {
		return rawURL
	}
	if strings.Contains(c.CDN, "{url}") {
		return strings.ReplaceAll(c.CDN, "{url}", rawURL)
	}
	return strings.TrimSuffix(c.CDN, "/") + "/" + rawURL
}
