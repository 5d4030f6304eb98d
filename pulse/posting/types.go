// Package posting drives one browser session through login, CAPTCHA
// resolution, form submission and outcome verification on the target
// classifieds site.
package posting

import (
	"fmt"
	"strings"
	"time"

	"github.com/teranos/repost/errors"
	"github.com/teranos/repost/pulse/captcha"
)

// Credential authenticates one site account. Immutable for the duration of a run.
type Credential struct {
	Identifier string           `json:"identifier"`
	Secret     string           `json:"secret"`
	Strategy   captcha.Strategy `json:"strategy"`
}

// String never prints the secret
func (c Credential) String() string {
	return fmt.Sprintf("%s (captcha=%s)", c.Identifier, c.Strategy)
}

// Redacted returns a copy safe to hand back over the API
func (c Credential) Redacted() Credential {
	if c.Secret != "" {
		c.Secret = "********"
	}
	return c
}

// Validate checks the credential can drive a run
func (c Credential) Validate() error {
	if strings.TrimSpace(c.Identifier) == "" {
		return errors.NewInvalidRequestError("credential identifier is required")
	}
	if c.Secret == "" {
		return errors.NewInvalidRequestError("credential secret is required")
	}
	if !c.Strategy.Valid() {
		return errors.Wrapf(captcha.ErrUnknownStrategy, "%q", string(c.Strategy))
	}
	return nil
}

// Normalize applies the default strategy and canonical tag casing, then
// validates. Inbound credentials go through it before they are stored.
func (c *Credential) Normalize() error {
	s, err := captcha.ParseStrategy(string(c.Strategy))
	if err != nil {
		return err
	}
	c.Strategy = s
	return c.Validate()
}

// Listing is the ad content published on every run
type Listing struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Subcategory string   `json:"subcategory"`
	Region      string   `json:"region"`
	SubRegion   string   `json:"sub_region,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Images      []string `json:"images,omitempty"`
}

// Validate checks the fields the posting form requires
func (l Listing) Validate() error {
	var missing []string
	if strings.TrimSpace(l.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(l.Description) == "" {
		missing = append(missing, "description")
	}
	if l.Category == "" {
		missing = append(missing, "category")
	}
	if l.Subcategory == "" {
		missing = append(missing, "subcategory")
	}
	if l.Region == "" {
		missing = append(missing, "region")
	}
	if len(missing) > 0 {
		return errors.NewInvalidRequestError("listing is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Stage names the step at which a run ended
type Stage string

const (
	StageSession          Stage = "session" // browser could not be started
	StageLoginCaptcha     Stage = "login-captcha"
	StageLoginCredentials Stage = "login-credentials"
	StageLoginTimeout     Stage = "login-timeout"
	StageFormFill         Stage = "form-fill"
	StageSubmitCaptcha    Stage = "submit-captcha"
	StageSubmitTimeout    Stage = "submit-timeout"
	StageDone             Stage = "done"
)

// Outcome is the result of one run. Stage is StageDone on success.
type Outcome struct {
	Success   bool
	Stage     Stage
	Artifact  string // diagnostic snapshot path, empty when none was taken
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// ErrorMessage returns the failure text, or "" on success
func (o Outcome) ErrorMessage() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
