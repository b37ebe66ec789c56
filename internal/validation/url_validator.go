package validation

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

// URLValidator checks media download URLs. Unless private hosts are allowed it
// rejects loopback, link-local metadata and private network targets.
type URLValidator struct {
	validate *validator.Validate
}

// NewURLValidator creates a URLValidator. Media servers usually live on the
// local network, so allowPrivate is commonly enabled in home deployments.
func NewURLValidator(allowPrivate bool) *URLValidator {
	v := validator.New()
	_ = v.RegisterValidation("safe_url", func(fl validator.FieldLevel) bool {
		return isSafeURL(fl.Field().String(), allowPrivate)
	})
	return &URLValidator{validate: v}
}

// ValidateURLs validates every url and names the first offending one.
func (v *URLValidator) ValidateURLs(urls []string) error {
	for _, u := range urls {
		if err := v.validate.Var(u, "required,safe_url"); err != nil {
			return fmt.Errorf("invalid URL %q: %w", u, err)
		}
	}
	return nil
}

var defaultValidator = NewURLValidator(false)

// ValidateURLs validates urls with private hosts rejected.
func ValidateURLs(urls []string) error {
	return defaultValidator.ValidateURLs(urls)
}

func isSafeURL(urlStr string, allowPrivate bool) bool {
	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	if u.Host == "" {
		return false
	}

	host := u.Hostname()

	// cloud metadata endpoints stay blocked even for private deployments
	if host == "169.254.169.254" || strings.EqualFold(host, "metadata.google.internal") {
		return false
	}
	if allowPrivate {
		return true
	}

	forbiddenHosts := []string{
		"localhost",
		"127.0.0.1",
		"::1",
		"0.0.0.0",
	}

	for _, forbidden := range forbiddenHosts {
		if strings.EqualFold(host, forbidden) {
			return false
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return false
		}
	}

	return true
}
