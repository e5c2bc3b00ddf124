package endpointselect

import (
	"fmt"

	"github.com/manifoldco/promptui"

	"github.com/stashd-dev/stashd/internal/cli/config"
	"github.com/stashd-dev/stashd/internal/cli/userconfig"
)

// ResolveEndpoint determines which API endpoint to use:
// 1. the --endpoint alias when given
// 2. the endpoint remembered in the user config
// 3. the only endpoint, when there is exactly one
// 4. otherwise an interactive selection
func ResolveEndpoint(projectConfig *config.Config, alias string) (*config.Endpoint, error) {
	if alias != "" {
		return projectConfig.GetEndpointByAlias(alias)
	}

	selectedURL, err := userconfig.GetSelectedEndpoint()
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}

	if selectedURL != "" {
		endpoint, err := getEndpointByURL(projectConfig, selectedURL)
		if err != nil {
			// Remembered endpoint no longer exists in the project config
			_ = userconfig.SetSelectedEndpoint("")
		} else {
			return endpoint, nil
		}
	}

	if len(projectConfig.Endpoints) == 1 {
		endpoint := &projectConfig.Endpoints[0]
		if err := userconfig.SetSelectedEndpoint(endpoint.URL); err != nil {
			fmt.Printf("Warning: failed to save selected endpoint: %v\n", err)
		}
		return endpoint, nil
	}

	endpoint, err := PromptEndpointSelection(projectConfig)
	if err != nil {
		return nil, err
	}

	if err := userconfig.SetSelectedEndpoint(endpoint.URL); err != nil {
		fmt.Printf("Warning: failed to save selected endpoint: %v\n", err)
	}

	return endpoint, nil
}

// PromptEndpointSelection shows an interactive endpoint picker
func PromptEndpointSelection(projectConfig *config.Config) (*config.Endpoint, error) {
	if len(projectConfig.Endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints configured in stashd.json")
	}

	type endpointOption struct {
		Label    string
		Endpoint *config.Endpoint
	}

	options := make([]endpointOption, len(projectConfig.Endpoints))
	for i := range projectConfig.Endpoints {
		endpoint := &projectConfig.Endpoints[i]
		options[i] = endpointOption{
			Label:    fmt.Sprintf("%s (%s)", endpoint.Alias, endpoint.URL),
			Endpoint: endpoint,
		}
	}

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }}",
		Inactive: "  {{ .Label }}",
		Selected: "{{ .Label | green }}",
	}

	prompt := promptui.Select{
		Label:     "Select an endpoint",
		Items:     options,
		Templates: templates,
		Size:      10,
	}

	index, _, err := prompt.Run()
	if err != nil {
		return nil, fmt.Errorf("endpoint selection cancelled: %w", err)
	}

	return options[index].Endpoint, nil
}

func getEndpointByURL(cfg *config.Config, url string) (*config.Endpoint, error) {
	for i := range cfg.Endpoints {
		if cfg.Endpoints[i].URL == url {
			return &cfg.Endpoints[i], nil
		}
	}
	return nil, fmt.Errorf("endpoint with URL '%s' not found in project config", url)
}
