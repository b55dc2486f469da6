package normalizers

import (
	"fmt"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

var crmDataTypes = []DataType{
	{Key: TypeAccount, EnabledByDefault: true},
	{Key: TypeContact, EnabledByDefault: true},
	{Key: TypeDeal, EnabledByDefault: true},
	{Key: TypeLead, EnabledByDefault: true},
}

// Salesforce records carry their sObject name in attributes.type.
type Salesforce struct {
	instanceDomain string
}

func NewSalesforce(instanceDomain string) *Salesforce {
	return &Salesforce{instanceDomain: strings.TrimSuffix(strings.TrimPrefix(instanceDomain, "https://"), "/")}
}

func (s *Salesforce) Provider() string { return "salesforce" }

func (s *Salesforce) Catalog() Catalog {
	return Catalog{
		Models: []Model{
			{Name: "SalesforceAccount", DataTypes: []string{TypeAccount}},
			{Name: "SalesforceContact", DataTypes: []string{TypeContact}},
			{Name: "SalesforceOpportunity", DataTypes: []string{TypeDeal}},
			{Name: "SalesforceLead", DataTypes: []string{TypeLead}},
		},
		DataTypes: append(append([]DataType{}, crmDataTypes...), DataType{Key: TypeIssue, EnabledByDefault: true}),
	}
}

var salesforceTypes = map[string]string{
	"Account":     TypeAccount,
	"Contact":     TypeContact,
	"Lead":        TypeLead,
	"Opportunity": TypeDeal,
	"Case":        TypeIssue,
}

func (s *Salesforce) Normalize(model string, raw map[string]any) (models.NormalizedData, error) {
	sobject := str(raw, "attributes.type")
	if sobject == "" {
		sobject = strings.TrimPrefix(model, "Salesforce")
	}

	objType, ok := salesforceTypes[sobject]
	if !ok {
		objType = strings.ToLower(sobject)
		if objType == "" {
			objType = TypeRecord
		}
	}

	meta := metadata{}
	meta.set("sobject", sobject)
	switch objType {
	case TypeAccount:
		meta.set("industry", str(raw, "Industry"))
		meta.set("website", str(raw, "Website"))
		meta.set("phone", str(raw, "Phone"))
		meta.setNum("annual_revenue", raw, "AnnualRevenue")
		meta.setNum("employees", raw, "NumberOfEmployees")
	case TypeContact:
		meta.set("email", str(raw, "Email"))
		meta.set("phone", str(raw, "Phone", "MobilePhone"))
		meta.set("job_title", str(raw, "Title"))
		meta.set("account_id", str(raw, "AccountId"))
	case TypeDeal:
		meta.set("stage", str(raw, "StageName"))
		meta.setNum("amount", raw, "Amount")
		meta.setNum("probability", raw, "Probability")
		meta.set("close_date", str(raw, "CloseDate"))
		meta.set("account_id", str(raw, "AccountId"))
	case TypeLead:
		meta.set("company", str(raw, "Company"))
		meta.set("status", str(raw, "Status"))
		meta.set("email", str(raw, "Email"))
	case TypeIssue:
		meta.set("case_number", str(raw, "CaseNumber"))
		meta.set("status", str(raw, "Status"))
		meta.set("priority", str(raw, "Priority"))
	}
	meta.set("owner_id", str(raw, "OwnerId"))
	meta.set("modified_at", str(raw, "LastModifiedDate"))

	name := str(raw, "Name")
	if name == "" {
		name = strings.TrimSpace(str(raw, "FirstName") + " " + str(raw, "LastName"))
	}

	return models.NormalizedData{
		Type:               objType,
		Title:              title(name, str(raw, "Subject"), str(raw, "CaseNumber")),
		Description:        strPtr(raw, "Description"),
		SourceURL:          s.deepLink(sobject, str(raw, "Id", "id")),
		MetadataNormalized: meta,
	}, nil
}

func (s *Salesforce) deepLink(sobject, id string) *string {
	if s.instanceDomain == "" || sobject == "" || id == "" {
		return nil
	}
	return ptr(fmt.Sprintf("https://%s/lightning/r/%s/%s/view", s.instanceDomain, sobject, id))
}

// ZohoCRM modules share one record shape; Industry marks accounts and Full_Name contacts.
type ZohoCRM struct {
	orgID string
}

func NewZohoCRM(orgID string) *ZohoCRM { return &ZohoCRM{orgID: orgID} }

func (z *ZohoCRM) Provider() string { return "zoho-crm" }

func (z *ZohoCRM) Catalog() Catalog {
	return Catalog{
		Models: []Model{
			{Name: "ZohoCRMAccount", DataTypes: []string{TypeAccount}},
			{Name: "ZohoCRMContact", DataTypes: []string{TypeContact}},
			{Name: "ZohoCRMDeal", DataTypes: []string{TypeDeal}},
		},
		DataTypes: crmDataTypes,
	}
}

func (z *ZohoCRM) Normalize(model string, raw map[string]any) (models.NormalizedData, error) {
	lowerModel := strings.ToLower(model)

	var objType, module, name string
	switch {
	case has(raw, "Industry") || (has(raw, "Account_Name") && !has(raw, "Full_Name") && !has(raw, "Deal_Name")):
		objType, module = TypeAccount, "Accounts"
		name = str(raw, "Account_Name.name", "Account_Name")
	case has(raw, "Full_Name"):
		objType, module = TypeContact, "Contacts"
		name = str(raw, "Full_Name")
	case has(raw, "Deal_Name"):
		objType, module = TypeDeal, "Potentials"
		name = str(raw, "Deal_Name")
	case strings.Contains(lowerModel, "deal"):
		objType, module = TypeDeal, "Potentials"
	case strings.Contains(lowerModel, "contact"):
		objType, module = TypeContact, "Contacts"
	default:
		objType, module = TypeAccount, "Accounts"
	}

	meta := metadata{"module": module}
	switch objType {
	case TypeAccount:
		meta.set("industry", str(raw, "Industry"))
		meta.set("website", str(raw, "Website"))
		meta.setNum("annual_revenue", raw, "Annual_Revenue")
		meta.setNum("employees", raw, "Employees")
	case TypeContact:
		meta.set("email", str(raw, "Email"))
		meta.set("phone", str(raw, "Phone", "Mobile"))
		meta.set("account", str(raw, "Account_Name.name"))
	case TypeDeal:
		meta.set("stage", str(raw, "Stage"))
		meta.setNum("amount", raw, "Amount")
		meta.set("closing_date", str(raw, "Closing_Date"))
	}
	meta.set("owner", str(raw, "Owner.name"))
	meta.set("modified_at", str(raw, "Modified_Time"))

	return models.NormalizedData{
		Type:               objType,
		Title:              title(name, str(raw, "Name", "Last_Name")),
		Description:        strPtr(raw, "Description"),
		SourceURL:          z.deepLink(module, str(raw, "id", "Id")),
		MetadataNormalized: meta,
	}, nil
}

func (z *ZohoCRM) deepLink(module, id string) *string {
	if z.orgID == "" || id == "" {
		return nil
	}
	return ptr(fmt.Sprintf("https://crm.zoho.com/crm/%s/tab/%s/%s", z.orgID, module, id))
}

// HubSpot objects arrive either flat or with fields under "properties".
type HubSpot struct {
	portalID string
}

func NewHubSpot(portalID string) *HubSpot { return &HubSpot{portalID: portalID} }

func (h *HubSpot) Provider() string { return "hubspot" }

func (h *HubSpot) Catalog() Catalog {
	return Catalog{
		Models: []Model{
			{Name: "HubspotCompany", DataTypes: []string{TypeAccount}},
			{Name: "HubspotContact", DataTypes: []string{TypeContact}},
			{Name: "HubspotDeal", DataTypes: []string{TypeDeal}},
		},
		DataTypes: crmDataTypes,
	}
}

var hubspotObjectTypeIDs = map[string]string{
	TypeContact: "0-1",
	TypeAccount: "0-2",
	TypeDeal:    "0-3",
}

func (h *HubSpot) Normalize(model string, raw map[string]any) (models.NormalizedData, error) {
	props := raw
	if p, ok := raw["properties"].(map[string]any); ok {
		props = p
	}
	lowerModel := strings.ToLower(model)

	var objType, name string
	switch {
	case has(props, "dealname") || strings.Contains(lowerModel, "deal"):
		objType = TypeDeal
		name = str(props, "dealname", "name")
	case has(props, "domain") || strings.Contains(lowerModel, "company"):
		objType = TypeAccount
		name = str(props, "name", "domain")
	default:
		objType = TypeContact
		name = strings.TrimSpace(str(props, "firstname", "first_name") + " " + str(props, "lastname", "last_name"))
		if name == "" {
			name = str(props, "email")
		}
	}

	meta := metadata{}
	switch objType {
	case TypeDeal:
		meta.set("stage", str(props, "dealstage", "deal_stage"))
		meta.setNum("amount", props, "amount")
		meta.set("close_date", str(props, "closedate", "close_date"))
		meta.set("pipeline", str(props, "pipeline"))
	case TypeAccount:
		meta.set("domain", str(props, "domain"))
		meta.set("industry", str(props, "industry"))
		meta.setNum("employees", props, "numberofemployees")
	case TypeContact:
		meta.set("email", str(props, "email"))
		meta.set("phone", str(props, "phone"))
		meta.set("company", str(props, "company"))
		meta.set("lifecycle_stage", str(props, "lifecyclestage"))
	}
	meta.set("modified_at", str(props, "hs_lastmodifieddate", "lastmodifieddate"))

	return models.NormalizedData{
		Type:               objType,
		Title:              title(name),
		Description:        strPtr(props, "description"),
		SourceURL:          h.deepLink(objType, str(raw, "id")),
		MetadataNormalized: meta,
	}, nil
}

func (h *HubSpot) deepLink(objType, id string) *string {
	typeID, ok := hubspotObjectTypeIDs[objType]
	if h.portalID == "" || id == "" || !ok {
		return nil
	}
	return ptr(fmt.Sprintf("https://app.hubspot.com/contacts/%s/record/%s/%s", h.portalID, typeID, id))
}
