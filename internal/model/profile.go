package model

// CompanyProfile is the final structured output of Stage C, persisted keyed
// by cnpj_basico.
type CompanyProfile struct {
	CNPJBasico string `json:"cnpj_basico"`

	Identity struct {
		CompanyName  string `json:"company_name,omitempty"`
		CNPJ         string `json:"cnpj,omitempty"`
		FoundingYear string `json:"founding_year,omitempty"`
		Description  string `json:"description,omitempty"`
	} `json:"identity"`

	Classification struct {
		Industry string   `json:"industry,omitempty"`
		Segments []string `json:"segments,omitempty"`
	} `json:"classification"`

	Team struct {
		SizeEstimate string   `json:"size_estimate,omitempty"`
		Leadership   []string `json:"leadership,omitempty"`
	} `json:"team"`

	Offerings struct {
		Products           []string `json:"products,omitempty"`
		Categories         []string `json:"categories,omitempty"`
		Services           []string `json:"services,omitempty"`
		ServiceDetails     []string `json:"service_details,omitempty"`
		EngagementModels    []string `json:"engagement_models,omitempty"`
		KeyDifferentiators []string `json:"key_differentiators,omitempty"`
	} `json:"offerings"`

	Reputation struct {
		Certifications []string `json:"certifications,omitempty"`
		Awards         []string `json:"awards,omitempty"`
		Partnerships   []string `json:"partnerships,omitempty"`
		ClientList     []string `json:"client_list,omitempty"`
		CaseStudies    []string `json:"case_studies,omitempty"`
	} `json:"reputation"`

	Contact struct {
		Emails     []string `json:"emails,omitempty"`
		Phones     []string `json:"phones,omitempty"`
		WebsiteURL string   `json:"website_url,omitempty"`
		Locations  []string `json:"locations,omitempty"`
	} `json:"contact"`

	Sources []string `json:"sources,omitempty"`
}
