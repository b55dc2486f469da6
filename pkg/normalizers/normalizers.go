// Package normalizers maps raw provider records into the unified object shape.
//
// Each provider has one Normalizer. Normalizers are pure: they never perform I/O,
// never mutate the record they are given, and return the same output for the same
// input. Deep links may depend on static Options but never on time or randomness.
package normalizers

import (
	"errors"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Unified object types.
const (
	TypeFile        = "file"
	TypeFolder      = "folder"
	TypeDocument    = "document"
	TypeContact     = "contact"
	TypeAccount     = "account"
	TypeLead        = "lead"
	TypeDeal        = "deal"
	TypeIssue       = "issue"
	TypeProject     = "project"
	TypeRepository  = "repository"
	TypeEvent       = "event"
	TypeMessage     = "message"
	TypeChannel     = "channel"
	TypeRecord      = "record"
	untitledDefault = "Untitled"
)

var ErrInvalidRecord = errors.New("invalid record")

// Normalizer converts one provider's raw records.
type Normalizer interface {
	Provider() string
	Catalog() Catalog
	// Normalize maps raw into NormalizedData. model is the integration platform's
	// model name and may be empty.
	Normalize(model string, raw map[string]any) (models.NormalizedData, error)
}

// DataType is a unified type a provider can emit, with its default gate setting.
type DataType struct {
	Key              string
	EnabledByDefault bool
}

// Model is a record feed exposed by the integration platform for a provider.
type Model struct {
	Name      string
	DataTypes []string
}

// Catalog describes what a provider syncs.
type Catalog struct {
	Models    []Model
	DataTypes []DataType
	// ResyncOnConnect clears and fully resyncs the catalog models when a connection is created.
	ResyncOnConnect bool
}

// Defaults returns the default enabled flag per data type.
func (c Catalog) Defaults() map[string]bool {
	defaults := make(map[string]bool, len(c.DataTypes))
	for _, dt := range c.DataTypes {
		defaults[dt.Key] = dt.EnabledByDefault
	}
	return defaults
}

// Model finds a model by name.
func (c Catalog) Model(name string) (Model, bool) {
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	return Model{}, false
}

// TypesFor returns the data types produced by the named models, deduplicated in order.
func (c Catalog) TypesFor(modelNames ...string) []string {
	seen := map[string]bool{}
	var types []string
	for _, name := range modelNames {
		m, ok := c.Model(name)
		if !ok {
			continue
		}
		for _, t := range m.DataTypes {
			if !seen[t] {
				seen[t] = true
				types = append(types, t)
			}
		}
	}
	return types
}

// ModelNames lists the catalog's model names.
func (c Catalog) ModelNames() []string {
	names := make([]string, 0, len(c.Models))
	for _, m := range c.Models {
		names = append(names, m.Name)
	}
	return names
}

// Options carries static deep-link settings.
type Options struct {
	SalesforceInstanceDomain string
	ZohoOrgID                string
	HubspotPortalID          string
	JiraSite                 string
}
