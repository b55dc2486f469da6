package normalizers

import (
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

// modelTypeSuffixes map a model name's trailing noun to a unified type.
var modelTypeSuffixes = []struct {
	suffix string
	typ    string
}{
	{"pullrequest", TypeIssue},
	{"repository", TypeRepository},
	{"opportunity", TypeDeal},
	{"document", TypeDocument},
	{"ticket", TypeIssue},
	{"company", TypeAccount},
	{"account", TypeAccount},
	{"contact", TypeContact},
	{"project", TypeProject},
	{"message", TypeMessage},
	{"channel", TypeChannel},
	{"issue", TypeIssue},
	{"event", TypeEvent},
	{"file", TypeFile},
	{"deal", TypeDeal},
	{"lead", TypeLead},
	{"page", TypeDocument},
	{"task", TypeIssue},
}

// Generic handles providers with no dedicated normalizer using common field names.
type Generic struct{}

func NewGeneric() *Generic { return &Generic{} }

func (g *Generic) Provider() string { return "generic" }

func (g *Generic) Catalog() Catalog { return Catalog{} }

func (g *Generic) Normalize(model string, raw map[string]any) (models.NormalizedData, error) {
	meta := metadata{}
	meta.set("model", model)
	meta.set("created_at", str(raw, "created_at", "createdAt", "created"))
	meta.set("updated_at", str(raw, "updated_at", "updatedAt", "updated", "modified_at"))

	return models.NormalizedData{
		Type:               typeFromModel(model),
		Title:              title(str(raw, "name", "title", "subject")),
		Description:        strPtr(raw, "description", "body"),
		SourceURL:          strPtr(raw, "url", "html_url", "web_url", "webUrl", "link"),
		MimeType:           strPtr(raw, "mimeType", "mime_type"),
		MetadataNormalized: meta,
	}, nil
}

func typeFromModel(model string) string {
	lower := strings.ToLower(model)
	for _, s := range modelTypeSuffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return s.typ
		}
	}
	return TypeRecord
}
