package ghfetch

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/google/go-github/v81/github"
)

// Default corpus location.
const (
	DefaultOwner        = "UltimateFrisbee-Rules"
	DefaultRepo         = "official-rules"
	DefaultRulebookPath = "rules/official-rules.md"
	DefaultGlossaryPath = "rules/glossary.md"
)

// FetchedFile is one source file pulled from the repository.
type FetchedFile struct {
	Path    string
	Content string
	SHA     string // Git blob SHA
	URL     string // raw URL for provenance
}

// Corpus bundles the two source files of one ingestion run.
type Corpus struct {
	Rulebook  *FetchedFile
	Glossary  *FetchedFile
	CommitSHA string
}

// Fetcher retrieves corpus files from a GitHub repository.
type Fetcher struct {
	client *Client
	owner  string
	repo   string
}

// NewFetcher creates a Fetcher for the given repository.
func NewFetcher(client *Client, owner, repo string) *Fetcher {
	if owner == "" {
		owner = DefaultOwner
	}
	if repo == "" {
		repo = DefaultRepo
	}
	return &Fetcher{client: client, owner: owner, repo: repo}
}

// FetchCorpus pulls the rulebook and glossary files plus the latest commit
// SHA touching either of them.
func (f *Fetcher) FetchCorpus(ctx context.Context, rulebookPath, glossaryPath string) (*Corpus, error) {
	if rulebookPath == "" {
		rulebookPath = DefaultRulebookPath
	}
	if glossaryPath == "" {
		glossaryPath = DefaultGlossaryPath
	}

	rulebook, err := f.FetchFile(ctx, rulebookPath)
	if err != nil {
		return nil, fmt.Errorf("fetch rulebook: %w", err)
	}
	glossary, err := f.FetchFile(ctx, glossaryPath)
	if err != nil {
		return nil, fmt.Errorf("fetch glossary: %w", err)
	}
	sha, err := f.LatestCommitSHA(ctx, rulebookPath)
	if err != nil {
		return nil, err
	}

	return &Corpus{Rulebook: rulebook, Glossary: glossary, CommitSHA: sha}, nil
}

// FetchFile fetches one file's decoded content.
func (f *Fetcher) FetchFile(ctx context.Context, path string) (*FetchedFile, error) {
	fileContent, _, _, err := f.client.Repositories.GetContents(ctx, f.owner, f.repo, path, nil)
	if err != nil {
		return nil, fmt.Errorf("get contents of %s: %w", path, err)
	}
	if fileContent == nil {
		return nil, fmt.Errorf("no file content returned for %s", path)
	}

	content, err := base64.StdEncoding.DecodeString(*fileContent.Content)
	if err != nil {
		return nil, fmt.Errorf("decode content of %s: %w", path, err)
	}

	return &FetchedFile{
		Path:    path,
		Content: string(content),
		SHA:     *fileContent.SHA,
		URL:     fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/main/%s", f.owner, f.repo, path),
	}, nil
}

// LatestCommitSHA returns the SHA of the most recent commit touching path.
func (f *Fetcher) LatestCommitSHA(ctx context.Context, path string) (string, error) {
	commits, _, err := f.client.Repositories.ListCommits(ctx, f.owner, f.repo,
		&github.CommitsListOptions{
			Path:        path,
			ListOptions: github.ListOptions{PerPage: 1},
		})
	if err != nil {
		return "", fmt.Errorf("get latest commit: %w", err)
	}
	if len(commits) == 0 || commits[0].SHA == nil {
		return "", fmt.Errorf("no commits found for path %s", path)
	}
	return *commits[0].SHA, nil
}
