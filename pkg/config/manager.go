package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bruin-data/dealsync/pkg/bigquery"
	"github.com/bruin-data/dealsync/pkg/bitrix"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const DefaultFileName = ".dealsync.yml"

type ScheduleConfig struct {
	Cron string `yaml:"cron,omitempty" json:"cron" mapstructure:"cron"`
}

type ServeConfig struct {
	Address string `yaml:"address,omitempty" json:"address" mapstructure:"address"`
}

type Config struct {
	fs   afero.Fs
	path string

	CRM      bitrix.Config   `yaml:"crm" json:"crm" mapstructure:"crm"`
	BigQuery bigquery.Config `yaml:"bigquery" json:"bigquery" mapstructure:"bigquery"`
	Schedule ScheduleConfig  `yaml:"schedule,omitempty" json:"schedule" mapstructure:"schedule"`
	Serve    ServeConfig     `yaml:"serve,omitempty" json:"serve" mapstructure:"serve"`
}

func (c *Config) Path() string {
	return c.path
}

func (c *Config) Persist() error {
	return c.PersistToFs(c.fs)
}

func (c *Config) PersistToFs(fs afero.Fs) error {
	buf, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config to yaml")
	}

	if err := afero.WriteFile(fs, c.path, buf, 0o600); err != nil {
		return errors.Wrapf(err, "failed to write config file to %s", c.path)
	}

	return nil
}

// Validate checks required fields and the cron expression, if any.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	if c.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			return errors.Wrapf(err, "invalid schedule '%s'", c.Schedule.Cron)
		}
	}

	return nil
}

func (c *Config) applyDefaults() {
	c.CRM = c.CRM.WithDefaults()
	if c.Serve.Address == "" {
		c.Serve.Address = ":8080"
	}

	// a relative credentials file lives next to the config file
	if sa := c.BigQuery.CredentialsFilePath; sa != "" && !filepath.IsAbs(sa) && c.path != "" {
		c.BigQuery.CredentialsFilePath = filepath.Join(filepath.Dir(c.path), sa)
	}
}

func LoadFromFile(fs afero.Fs, path string) (*Config, error) {
	buf, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read file %s", path)
	}

	var config Config
	if err := yaml.Unmarshal(buf, &config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %s", path)
	}

	config.fs = fs
	config.path = path
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Template is the configuration written by `init`.
func Template() *Config {
	maxBad := bigquery.DefaultMaxBadRecords
	return &Config{
		CRM: bitrix.Config{
			WebhookURL: "https://example.bitrix24.com/rest/1/webhook-token/",
			Select:     bitrix.DefaultSelect,
			StageField: "STAGE_ID",
		},
		BigQuery: bigquery.Config{
			CredentialsFilePath: "service_account.json",
			Dataset:             "crm",
			Table:               "deals",
			MaxBadRecords:       &maxBad,
		},
		Schedule: ScheduleConfig{Cron: "0 * * * *"},
		Serve:    ServeConfig{Address: ":8080"},
	}
}

// Create writes the template to path unless a file already exists there, and
// makes sure the file is ignored by git since it holds the webhook secret.
func Create(fs afero.Fs, path string) (*Config, error) {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.Errorf("config file %s already exists", path)
	}

	config := Template()
	config.fs = fs
	config.path = path

	if err := config.Persist(); err != nil {
		return nil, fmt.Errorf("failed to persist config: %w", err)
	}

	return config, ensureConfigIsInGitignore(fs, path)
}

func ensureConfigIsInGitignore(fs afero.Fs, filePath string) (err error) {
	gitignorePath := path.Join(path.Dir(filePath), ".gitignore")
	exists, err := afero.Exists(fs, gitignorePath)
	if err != nil {
		return err
	}

	fileNameToIgnore := path.Base(filePath)
	if !exists {
		return afero.WriteFile(fs, gitignorePath, []byte(fileNameToIgnore+"\n"), 0o644)
	}

	content, err := afero.ReadFile(fs, gitignorePath)
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(line) == fileNameToIgnore {
			return nil
		}
	}

	file, err := fs.OpenFile(gitignorePath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func(open afero.File) {
		if tempErr := open.Close(); tempErr != nil && err == nil {
			err = errors.Wrap(tempErr, "failed to close file")
		}
	}(file)

	_, err = file.Write([]byte("\n" + fileNameToIgnore + "\n"))
	return err
}
