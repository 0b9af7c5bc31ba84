package domain

// Project is a phishing-simulation campaign. Only the fields the send path
// needs are modeled here.
type Project struct {
	ID                  string  `json:"id" db:"id"`
	Name                string  `json:"name" db:"name"`
	TemplateID          *string `json:"templateId" db:"template_id"`
	TrainingPageID      *string `json:"trainingPageId" db:"training_page_id"`
	FromName            *string `json:"fromName" db:"from_name"`
	FromEmail           *string `json:"fromEmail" db:"from_email"`
	SendingDomain       *string `json:"sendingDomain" db:"sending_domain"`
	SendValidationError *string `json:"sendValidationError" db:"send_validation_error"`
}

// CTAKind selects how the auto-inserted landing link is rendered.
type CTAKind string

const (
	CTALink   CTAKind = "link"
	CTAButton CTAKind = "button"
)

// DefaultCTALabel is used when a template enables auto-insert without a label.
const DefaultCTALabel = "View document"

// AutoInsertConfig controls the landing-link block appended to mail bodies
// that carry no {{LANDING_URL}} placeholder.
type AutoInsertConfig struct {
	Enabled bool    `json:"enabled" db:"auto_insert_landing_enabled"`
	Label   string  `json:"label" db:"auto_insert_landing_label"`
	Kind    CTAKind `json:"kind" db:"auto_insert_landing_kind"`
	NewTab  bool    `json:"newTab" db:"auto_insert_landing_new_tab"`
}

// Resolve returns the config with defaults applied to blank fields.
func (c AutoInsertConfig) Resolve() AutoInsertConfig {
	if c.Label == "" {
		c.Label = DefaultCTALabel
	}
	if c.Kind != CTAButton {
		c.Kind = CTALink
	}
	return c
}

// DefaultAutoInsert is the config new templates start with.
func DefaultAutoInsert() AutoInsertConfig {
	return AutoInsertConfig{Enabled: true, Label: DefaultCTALabel, Kind: CTALink, NewTab: true}
}

// Template is the mail and landing content a project sends.
type Template struct {
	ID                   string           `json:"id" db:"id"`
	Name                 string           `json:"name" db:"name"`
	Subject              string           `json:"subject" db:"subject"`
	Body                 string           `json:"body" db:"body"`
	MaliciousPageContent string           `json:"maliciousPageContent" db:"malicious_page_content"`
	AutoInsert           AutoInsertConfig `json:"autoInsertLanding"`
}

// TrainingPageStatus enumerates whether a training page may be served.
type TrainingPageStatus string

const (
	TrainingPageActive   TrainingPageStatus = "active"
	TrainingPageInactive TrainingPageStatus = "inactive"
)

// TrainingPage is the post-click education page a project links to.
type TrainingPage struct {
	ID     string             `json:"id" db:"id"`
	Name   string             `json:"name" db:"name"`
	Status TrainingPageStatus `json:"status" db:"status"`
}
