package normalizers

import (
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

// GitHub serves issues and repositories. The platform delivers both through
// similarly shaped payloads, so the type is inferred from the record's fields.
type GitHub struct{}

func NewGitHub() *GitHub { return &GitHub{} }

func (g *GitHub) Provider() string { return "github" }

func (g *GitHub) Catalog() Catalog {
	return Catalog{
		Models: []Model{
			{Name: "GithubIssue", DataTypes: []string{TypeIssue}},
			{Name: "GithubRepository", DataTypes: []string{TypeRepository}},
		},
		DataTypes: []DataType{
			{Key: TypeIssue, EnabledByDefault: true},
			{Key: TypeRepository, EnabledByDefault: true},
		},
		ResyncOnConnect: true,
	}
}

func (g *GitHub) Normalize(model string, raw map[string]any) (models.NormalizedData, error) {
	switch g.inferType(model, raw) {
	case TypeIssue:
		return g.issue(raw), nil
	default:
		return g.repository(raw), nil
	}
}

func (g *GitHub) inferType(model string, raw map[string]any) string {
	if has(raw, "number", "state") {
		return TypeIssue
	}
	if has(raw, "full_name") || has(raw, "stargazers_count") {
		return TypeRepository
	}
	if strings.Contains(strings.ToLower(model), "issue") {
		return TypeIssue
	}
	return TypeRepository
}

func (g *GitHub) issue(raw map[string]any) models.NormalizedData {
	meta := metadata{}
	meta.setNum("number", raw, "number")
	meta.set("state", str(raw, "state"))
	meta.set("author", str(raw, "user.login", "author"))
	meta.set("labels", append(pluck(raw, "labels", "name"), pluck(raw, "labels", "")...))
	meta.set("assignees", pluck(raw, "assignees", "login"))
	meta.setNum("comments", raw, "comments")
	meta.set("repository", g.repoFromIssue(raw))
	meta.set("created_at", str(raw, "created_at"))
	meta.set("updated_at", str(raw, "updated_at"))
	meta.set("closed_at", str(raw, "closed_at"))
	if has(raw, "pull_request") {
		meta["is_pull_request"] = true
	}

	return models.NormalizedData{
		Type:               TypeIssue,
		Title:              title(str(raw, "title")),
		Description:        strPtr(raw, "body"),
		SourceURL:          strPtr(raw, "html_url", "url"),
		MetadataNormalized: meta,
	}
}

// repoFromIssue derives owner/repo from repository_url (https://api.github.com/repos/owner/repo).
func (g *GitHub) repoFromIssue(raw map[string]any) string {
	if name := str(raw, "repository.full_name", "repository"); name != "" {
		return name
	}
	u := str(raw, "repository_url")
	if i := strings.Index(u, "/repos/"); i >= 0 {
		return u[i+len("/repos/"):]
	}
	return ""
}

func (g *GitHub) repository(raw map[string]any) models.NormalizedData {
	meta := metadata{}
	meta.setNum("stars", raw, "stargazers_count")
	meta.setNum("forks", raw, "forks_count")
	meta.setNum("open_issues", raw, "open_issues_count")
	meta.set("language", str(raw, "language"))
	meta.set("default_branch", str(raw, "default_branch"))
	meta.set("owner", str(raw, "owner.login"))
	meta.set("topics", pluck(raw, "topics", ""))
	meta.set("updated_at", str(raw, "updated_at", "pushed_at"))
	if v, ok := lookup(raw, "private"); ok {
		meta.set("private", v)
	}

	return models.NormalizedData{
		Type:               TypeRepository,
		Title:              title(str(raw, "full_name", "name")),
		Description:        strPtr(raw, "description"),
		SourceURL:          strPtr(raw, "html_url", "url"),
		MetadataNormalized: meta,
	}
}
