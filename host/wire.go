package host

import "github.com/chronicals/sdk/route"

// InitializeHostParams is the wire shape of the INITIALIZE_HOST call sent
// on every (re-)initialize.
type InitializeHostParams struct {
	Actions    []route.ActionDefinition `json:"actions"`
	Groups     []route.PageDefinition   `json:"groups"`
	SDKName    string                   `json:"sdkName"`
	SDKVersion string                   `json:"sdkVersion"`
	RequestID  string                   `json:"requestId,omitempty"`
	Timestamp  int64                    `json:"timestamp"`
}

// InitializeHostResult is the orchestrator's response to INITIALIZE_HOST.
type InitializeHostResult struct {
	Type         string   `json:"type"`
	Organization any      `json:"organization,omitempty"`
	Environment  string   `json:"environment,omitempty"`
	DashboardURL string   `json:"dashboardUrl,omitempty"`
	InvalidSlugs []string `json:"invalidSlugs,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	SDKAlert     string   `json:"sdkAlert,omitempty"`
	Message      string   `json:"message,omitempty"`
}

// BeginHostShutdownParams is the (empty) wire shape of BEGIN_HOST_SHUTDOWN.
type BeginHostShutdownParams struct{}

// BeginHostShutdownResult is the orchestrator's response to
// BEGIN_HOST_SHUTDOWN.
type BeginHostShutdownResult struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// PageRef identifies which page route OPEN_PAGE targets.
type PageRef struct {
	Slug string `json:"slug"`
}

// OpenPageParams is the wire shape of the OPEN_PAGE call.
type OpenPageParams struct {
	PageKey     string  `json:"pageKey"`
	Page        PageRef `json:"page"`
	User        any     `json:"user,omitempty"`
	Environment string  `json:"environment,omitempty"`
	Params      any     `json:"params,omitempty"`
	ParamsMeta  any     `json:"paramsMeta,omitempty"`
}

// OpenPageResult answers OPEN_PAGE.
type OpenPageResult struct {
	Type    string `json:"type"`
	PageKey string `json:"pageKey,omitempty"`
	Message string `json:"message,omitempty"`
}

// ClosePageParams is the wire shape of the CLOSE_PAGE call.
type ClosePageParams struct {
	PageKey string `json:"pageKey"`
}

