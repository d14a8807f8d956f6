package session

import (
	"fmt"
	"strings"

	"github.com/querypilot/querypilot/internal/training"
)

const (
	SettingAccessToken    = "access_token"
	SettingProjectID      = "bigquery_project_id"
	SettingLocation       = "location"
	SettingResourceID     = "resource_id"
	SettingHistoryQueries = "history_queries"

	maxHistoryQueries = 50
)

type Settings struct {
	AccessToken    string `json:"access_token"`
	ProjectID      string `json:"bigquery_project_id"`
	Location       string `json:"location"`
	ResourceID     string `json:"resource_id"`
	HistoryQueries int    `json:"history_queries,omitempty"`
}

type SettingDescriptor struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Initial     string `json:"initial,omitempty"`
	Required    bool   `json:"required"`
	Secret      bool   `json:"secret,omitempty"`
}

// SettingsForm describes the inputs a chat surface should collect.
func SettingsForm() []SettingDescriptor {
	return []SettingDescriptor{
		{
			ID:          SettingAccessToken,
			Label:       "Access Token",
			Description: "Enter your access token from `gcloud auth print-access-token`",
			Required:    true,
			Secret:      true,
		},
		{
			ID:          SettingProjectID,
			Label:       "BigQuery Execution Project",
			Description: "Enter the project where you want to execute the BigQuery queries",
			Initial:     "cake-user-adhoc",
			Required:    true,
		},
		{
			ID:          SettingLocation,
			Label:       "Location",
			Description: "Enter the location of the BigQuery project",
			Initial:     "asia-southeast1",
			Required:    true,
		},
		{
			ID:          SettingResourceID,
			Label:       "Resource ID",
			Description: "Enter the resource ID in format `project_id.dataset_id.table_id`",
			Required:    true,
		},
		{
			ID:          SettingHistoryQueries,
			Label:       "Historical Queries",
			Description: "Number of recent queries against the table to learn from (0 disables)",
			Initial:     "0",
		},
	}
}

// Validate reports every missing required setting in form order, then
// malformed values.
func (s Settings) Validate() error {
	values := []struct {
		id    string
		value string
	}{
		{SettingAccessToken, s.AccessToken},
		{SettingProjectID, s.ProjectID},
		{SettingLocation, s.Location},
		{SettingResourceID, s.ResourceID},
	}
	var problems []string
	for _, setting := range values {
		if strings.TrimSpace(setting.value) == "" {
			problems = append(problems, fmt.Sprintf("Setting %s cannot be empty", setting.id))
		}
	}
	if err := training.ValidateLocation(s.Location); err != nil {
		problems = append(problems, fmt.Sprintf("Setting %s must be a region name such as asia-southeast1", SettingLocation))
	}
	if s.HistoryQueries < 0 || s.HistoryQueries > maxHistoryQueries {
		problems = append(problems, fmt.Sprintf("Setting %s must be between 0 and %d", SettingHistoryQueries, maxHistoryQueries))
	}
	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// Redacted returns a copy safe to log.
func (s Settings) Redacted() Settings {
	if s.AccessToken != "" {
		s.AccessToken = "***"
	}
	return s
}
