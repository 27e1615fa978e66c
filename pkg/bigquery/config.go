package bigquery

import (
	"fmt"

	"golang.org/x/oauth2/google"
)

const DefaultMaxBadRecords int64 = 50

type Config struct {
	// ProjectID may be left empty to use the project of the service account.
	ProjectID           string              `yaml:"project_id,omitempty" json:"project_id" mapstructure:"project_id"`
	CredentialsFilePath string              `yaml:"service_account_file,omitempty" json:"service_account_file" mapstructure:"service_account_file" validate:"required_without=CredentialsJSON"`
	CredentialsJSON     string              `yaml:"service_account_json,omitempty" json:"service_account_json" mapstructure:"service_account_json"`
	Credentials         *google.Credentials `yaml:"-" json:"-" mapstructure:"-"`
	Location            string              `yaml:"location,omitempty" json:"location" mapstructure:"location"`

	Dataset       string            `yaml:"dataset" json:"dataset" mapstructure:"dataset" validate:"required"`
	Table         string            `yaml:"table" json:"table" mapstructure:"table" validate:"required"`
	CreateDataset bool              `yaml:"create_dataset,omitempty" json:"create_dataset" mapstructure:"create_dataset"`
	MaxBadRecords *int64            `yaml:"max_bad_records,omitempty" json:"max_bad_records" mapstructure:"max_bad_records" validate:"omitempty,gte=0"`
	Labels        map[string]string `yaml:"labels,omitempty" json:"labels" mapstructure:"labels"`
}

func (c Config) IsValid() bool {
	return c.Dataset != "" && c.Table != "" && (c.CredentialsFilePath != "" || c.CredentialsJSON != "" || c.Credentials != nil)
}

// BadRecordLimit returns the configured tolerance, or DefaultMaxBadRecords when unset.
func (c Config) BadRecordLimit() int64 {
	if c.MaxBadRecords == nil {
		return DefaultMaxBadRecords
	}
	return *c.MaxBadRecords
}

// TableRef identifies a destination table.
type TableRef struct {
	ProjectID string `json:"project_id"`
	DatasetID string `json:"dataset_id"`
	TableID   string `json:"table_id"`
}

func (t TableRef) String() string {
	return fmt.Sprintf("%s.%s.%s", t.ProjectID, t.DatasetID, t.TableID)
}
