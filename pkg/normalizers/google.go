package normalizers

import (
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

const mimeGoogleFolder = "application/vnd.google-apps.folder"

// documentMimeTypes are treated as documents and are eligible for enrichment.
var documentMimeTypes = []string{
	"application/vnd.google-apps.document",
	"application/vnd.google-apps.spreadsheet",
	"application/vnd.google-apps.presentation",
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument",
	"application/rtf",
	"text/",
}

func isDocumentMime(mime string) bool {
	for _, prefix := range documentMimeTypes {
		if strings.HasPrefix(mime, prefix) {
			return true
		}
	}
	return false
}

type GoogleDrive struct{}

func NewGoogleDrive() *GoogleDrive { return &GoogleDrive{} }

func (g *GoogleDrive) Provider() string { return "google-drive" }

func (g *GoogleDrive) Catalog() Catalog {
	return Catalog{
		Models: []Model{
			{Name: "Document", DataTypes: []string{TypeDocument, TypeFile, TypeFolder}},
		},
		DataTypes: []DataType{
			{Key: TypeDocument, EnabledByDefault: true},
			{Key: TypeFile, EnabledByDefault: true},
			{Key: TypeFolder, EnabledByDefault: true},
		},
		ResyncOnConnect: true,
	}
}

func (g *GoogleDrive) Normalize(_ string, raw map[string]any) (models.NormalizedData, error) {
	mime := str(raw, "mimeType", "mime_type")

	objType := TypeFile
	switch {
	case mime == mimeGoogleFolder:
		objType = TypeFolder
	case isDocumentMime(mime):
		objType = TypeDocument
	}

	meta := metadata{}
	meta.setNum("size", raw, "size")
	meta.set("created_time", str(raw, "createdTime"))
	meta.set("modified_time", str(raw, "modifiedTime", "updatedAt"))
	meta.set("owners", pluck(raw, "owners", "emailAddress"))
	meta.set("parents", pluck(raw, "parents", ""))
	meta.set("icon_link", str(raw, "iconLink"))
	if boolean(raw, "starred") {
		meta["starred"] = true
	}
	if boolean(raw, "shared") {
		meta["shared"] = true
	}

	return models.NormalizedData{
		Type:               objType,
		Title:              title(str(raw, "name", "title")),
		Description:        strPtr(raw, "description"),
		SourceURL:          strPtr(raw, "webViewLink", "url"),
		MimeType:           ptr(mime),
		MetadataNormalized: meta,
	}, nil
}

type GoogleCalendar struct{}

func NewGoogleCalendar() *GoogleCalendar { return &GoogleCalendar{} }

func (g *GoogleCalendar) Provider() string { return "google-calendar" }

func (g *GoogleCalendar) Catalog() Catalog {
	return Catalog{
		Models:    []Model{{Name: "GoogleCalendarEvent", DataTypes: []string{TypeEvent}}},
		DataTypes: []DataType{{Key: TypeEvent, EnabledByDefault: true}},
	}
}

func (g *GoogleCalendar) Normalize(_ string, raw map[string]any) (models.NormalizedData, error) {
	meta := metadata{}
	meta.set("start", str(raw, "start.dateTime", "start.date", "start"))
	meta.set("end", str(raw, "end.dateTime", "end.date", "end"))
	meta.set("location", str(raw, "location"))
	meta.set("status", str(raw, "status"))
	meta.set("organizer", str(raw, "organizer.email"))
	meta.set("attendees", pluck(raw, "attendees", "email"))
	meta.set("recurring_event_id", str(raw, "recurringEventId"))
	meta.set("meeting_link", str(raw, "hangoutLink"))

	return models.NormalizedData{
		Type:               TypeEvent,
		Title:              title(str(raw, "summary", "title")),
		Description:        strPtr(raw, "description"),
		SourceURL:          strPtr(raw, "htmlLink"),
		MetadataNormalized: meta,
	}, nil
}
