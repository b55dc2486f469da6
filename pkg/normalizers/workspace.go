package normalizers

import (
	"fmt"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Jira serves issues and projects. A model name naming a project selects the
// project variant explicitly; otherwise the record shape decides.
type Jira struct {
	site string
}

func NewJira(site string) *Jira {
	return &Jira{site: strings.TrimSuffix(strings.TrimPrefix(site, "https://"), "/")}
}

func (j *Jira) Provider() string { return "jira" }

func (j *Jira) Catalog() Catalog {
	return Catalog{
		Models: []Model{
			{Name: "JiraIssue", DataTypes: []string{TypeIssue}},
			{Name: "JiraProject", DataTypes: []string{TypeProject}},
		},
		DataTypes: []DataType{
			{Key: TypeIssue, EnabledByDefault: true},
			{Key: TypeProject, EnabledByDefault: true},
		},
	}
}

func (j *Jira) Normalize(model string, raw map[string]any) (models.NormalizedData, error) {
	lowerModel := strings.ToLower(model)
	switch {
	case strings.Contains(lowerModel, "project"):
		return j.project(raw), nil
	case strings.Contains(lowerModel, "issue"):
		return j.issue(raw), nil
	case has(raw, "projectTypeKey") && !has(raw, "fields"):
		return j.project(raw), nil
	default:
		return j.issue(raw), nil
	}
}

func (j *Jira) issue(raw map[string]any) models.NormalizedData {
	key := str(raw, "key")

	meta := metadata{}
	meta.set("key", key)
	meta.set("status", str(raw, "fields.status.name", "status"))
	meta.set("priority", str(raw, "fields.priority.name", "priority"))
	meta.set("issue_type", str(raw, "fields.issuetype.name", "issueType"))
	meta.set("assignee", str(raw, "fields.assignee.displayName", "assignee"))
	meta.set("reporter", str(raw, "fields.reporter.displayName", "creator"))
	meta.set("project", str(raw, "fields.project.key", "projectKey"))
	meta.set("labels", pluck(raw, "fields.labels", ""))
	meta.set("updated_at", str(raw, "fields.updated", "updatedAt"))

	return models.NormalizedData{
		Type:               TypeIssue,
		Title:              title(str(raw, "fields.summary", "summary"), key),
		Description:        strPtr(raw, "fields.description", "description"),
		SourceURL:          j.link(raw, key),
		MetadataNormalized: meta,
	}
}

func (j *Jira) project(raw map[string]any) models.NormalizedData {
	key := str(raw, "key")

	meta := metadata{}
	meta.set("key", key)
	meta.set("project_type", str(raw, "projectTypeKey"))
	meta.set("lead", str(raw, "lead.displayName"))

	return models.NormalizedData{
		Type:               TypeProject,
		Title:              title(str(raw, "name"), key),
		Description:        strPtr(raw, "description"),
		SourceURL:          j.link(raw, key),
		MetadataNormalized: meta,
	}
}

func (j *Jira) link(raw map[string]any, key string) *string {
	if j.site != "" && key != "" {
		return ptr(fmt.Sprintf("https://%s/browse/%s", j.site, key))
	}
	return strPtr(raw, "webUrl", "url")
}

// Slack serves channels and messages.
type Slack struct{}

func NewSlack() *Slack { return &Slack{} }

func (s *Slack) Provider() string { return "slack" }

func (s *Slack) Catalog() Catalog {
	return Catalog{
		Models: []Model{
			{Name: "SlackChannel", DataTypes: []string{TypeChannel}},
			{Name: "SlackMessage", DataTypes: []string{TypeMessage}},
		},
		DataTypes: []DataType{
			{Key: TypeChannel, EnabledByDefault: true},
			{Key: TypeMessage, EnabledByDefault: true},
		},
	}
}

func (s *Slack) Normalize(model string, raw map[string]any) (models.NormalizedData, error) {
	if has(raw, "ts") || strings.Contains(strings.ToLower(model), "message") {
		meta := metadata{}
		meta.set("channel", str(raw, "channel_id", "channel"))
		meta.set("user", str(raw, "user_id", "user"))
		meta.set("ts", str(raw, "ts"))
		meta.set("thread_ts", str(raw, "thread_ts"))
		meta.setNum("reply_count", raw, "reply_count")

		return models.NormalizedData{
			Type:               TypeMessage,
			Title:              title(truncate(str(raw, "text"), 80)),
			Description:        strPtr(raw, "text"),
			SourceURL:          strPtr(raw, "permalink"),
			MetadataNormalized: meta,
		}, nil
	}

	meta := metadata{}
	meta.set("topic", str(raw, "topic.value"))
	meta.setNum("members", raw, "num_members")
	if boolean(raw, "is_private") {
		meta["private"] = true
	}
	if boolean(raw, "is_archived") {
		meta["archived"] = true
	}

	name := str(raw, "name")
	if name != "" {
		name = "#" + name
	}

	return models.NormalizedData{
		Type:               TypeChannel,
		Title:              title(name),
		Description:        strPtr(raw, "purpose.value", "topic.value"),
		MetadataNormalized: meta,
	}, nil
}

// Notion pages and databases are both treated as documents.
type Notion struct{}

func NewNotion() *Notion { return &Notion{} }

func (n *Notion) Provider() string { return "notion" }

func (n *Notion) Catalog() Catalog {
	return Catalog{
		Models:          []Model{{Name: "ContentMetadata", DataTypes: []string{TypeDocument}}},
		DataTypes:       []DataType{{Key: TypeDocument, EnabledByDefault: true}},
		ResyncOnConnect: true,
	}
}

func (n *Notion) Normalize(_ string, raw map[string]any) (models.NormalizedData, error) {
	meta := metadata{}
	meta.set("object", str(raw, "object", "type"))
	meta.set("path", str(raw, "path"))
	meta.set("parent_id", str(raw, "parent_id", "parent.page_id", "parent.database_id"))
	meta.set("last_edited_time", str(raw, "last_edited_time", "last_modified"))

	return models.NormalizedData{
		Type:               TypeDocument,
		Title:              title(str(raw, "title"), n.propertyTitle(raw)),
		SourceURL:          strPtr(raw, "url"),
		MimeType:           ptr("text/html"),
		MetadataNormalized: meta,
	}, nil
}

// propertyTitle joins the plain_text runs of the page's title property.
func (n *Notion) propertyTitle(raw map[string]any) string {
	props, ok := raw["properties"].(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range []string{"title", "Name", "Title"} {
		prop, ok := props[key].(map[string]any)
		if !ok {
			continue
		}
		if runs := pluck(prop, "title", "plain_text"); len(runs) > 0 {
			return strings.Join(runs, "")
		}
	}
	return ""
}
