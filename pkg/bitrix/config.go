package bitrix

import (
	"strings"
	"time"
)

const (
	DefaultFieldsMethod = "crm.deal.fields"
	DefaultStagesMethod = "crm.status.list"
	DefaultDealsMethod  = "crm.deal.list"
)

var DefaultSelect = []string{"*", "UF_*"}

type Config struct {
	// WebhookURL is the inbound webhook base, e.g. https://acme.bitrix24.com/rest/1/secret/
	WebhookURL   string        `yaml:"webhook_url" json:"webhook_url" mapstructure:"webhook_url" validate:"required,url"`
	Timeout      time.Duration `yaml:"timeout,omitempty" json:"timeout" mapstructure:"timeout"`
	Select       []string      `yaml:"select,omitempty" json:"select" mapstructure:"select"`
	StageField   string        `yaml:"stage_field,omitempty" json:"stage_field" mapstructure:"stage_field"`
	FieldsMethod string        `yaml:"fields_method,omitempty" json:"fields_method" mapstructure:"fields_method"`
	StagesMethod string        `yaml:"stages_method,omitempty" json:"stages_method" mapstructure:"stages_method"`
	DealsMethod  string        `yaml:"deals_method,omitempty" json:"deals_method" mapstructure:"deals_method"`
}

// WithDefaults fills every optional field that was left empty.
func (c Config) WithDefaults() Config {
	if len(c.Select) == 0 {
		c.Select = append([]string(nil), DefaultSelect...)
	}
	if c.StageField == "" {
		c.StageField = "STAGE_ID"
	}
	if c.FieldsMethod == "" {
		c.FieldsMethod = DefaultFieldsMethod
	}
	if c.StagesMethod == "" {
		c.StagesMethod = DefaultStagesMethod
	}
	if c.DealsMethod == "" {
		c.DealsMethod = DefaultDealsMethod
	}
	return c
}

func (c Config) methodURL(method string) string {
	return strings.TrimSuffix(c.WebhookURL, "/") + "/" + method
}
