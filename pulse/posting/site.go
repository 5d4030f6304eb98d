package posting

import (
	"time"

	"github.com/teranos/repost/am"
)

// Selectors locate the site's form controls. Values are passed to the
// browser as search queries, so CSS and XPath are both accepted.
type Selectors struct {
	Email        string
	Password     string
	LoginButton  string
	Region       string
	SubRegion    string // optional, skipped when empty
	Category     string
	Subcategory  string
	Title        string
	Description  string
	Price        string // optional, skipped when empty
	AcceptTerms  string
	SubmitButton string

	LoginTokenID  string // element receiving the login CAPTCHA token
	SubmitTokenID string // element receiving the submit CAPTCHA token
}

// DefaultSelectors matches the current wanuncios forms
func DefaultSelectors() Selectors {
	return Selectors{
		Email:         `input[name="email"]`,
		Password:      `input[name="password"]`,
		LoginButton:   `//button[contains(normalize-space(.), 'Iniciar sesión')]`,
		Region:        `select[name="provincia"]`,
		Category:      `select[name="categoria"]`,
		Subcategory:   `select[name="subcategoria"]`,
		Title:         `input[name="titulo"]`,
		Description:   `textarea[name="descripcion"]`,
		AcceptTerms:   `input[name="acepto_condiciones"]`,
		SubmitButton:  `//button[contains(normalize-space(.), 'Enviar Anuncio')]`,
		LoginTokenID:  "g-recaptcha-response",
		SubmitTokenID: "g-recaptcha-response-1",
	}
}

// Site describes the target website
type Site struct {
	LoginURL            string
	PostURL             string
	LoginSiteKey        string
	PostSiteKey         string
	LoginSuccessPattern string
	PostSuccessPattern  string
	LoginTimeout        time.Duration
	PostTimeout         time.Duration
	VisiblePause        time.Duration // before each submit click in visible sessions
	FormSettle          time.Duration // after choosing a category, before the dependent subcategory list
	Selectors           Selectors
}

// SiteFromConfig builds a Site from the [site] config section
func SiteFromConfig(cfg am.SiteConfig) Site {
	return Site{
		LoginURL:            cfg.LoginURL,
		PostURL:             cfg.PostURL,
		LoginSiteKey:        cfg.LoginSiteKey,
		PostSiteKey:         cfg.PostSiteKey,
		LoginSuccessPattern: cfg.LoginSuccessPattern,
		PostSuccessPattern:  cfg.PostSuccessPattern,
		LoginTimeout:        cfg.LoginTimeout,
		PostTimeout:         cfg.PostTimeout,
		VisiblePause:        cfg.VisiblePause,
		FormSettle:          time.Second,
		Selectors:           DefaultSelectors(),
	}
}
