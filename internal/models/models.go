package models

// CampaignRow is one campaign line of the dashboard summary. Rates are
// percentages in [0, 100]; RevenueShare is this campaign's slice of total
// revenue, formatted to one decimal.
type CampaignRow struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Status       string  `json:"status"`
	SendDate     string  `json:"sendDate"`
	MessageType  string  `json:"messageType"`
	Recipients   int     `json:"recipients"`
	Opens        int     `json:"opens"`
	Clicks       int     `json:"clicks"`
	Revenue      float64 `json:"revenue"`
	Conversions  int     `json:"conversions"`
	OpenRate     float64 `json:"openRate"`
	ClickRate    float64 `json:"clickRate"`
	RevenueShare string  `json:"revenueShare"`
}

// FlowRow is one automated-flow line: same shape as CampaignRow minus the
// send metadata, plus the flow's last update time.
type FlowRow struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Status       string  `json:"status"`
	UpdatedAt    string  `json:"updatedAt"`
	Recipients   int     `json:"recipients"`
	Opens        int     `json:"opens"`
	Clicks       int     `json:"clicks"`
	Revenue      float64 `json:"revenue"`
	Conversions  int     `json:"conversions"`
	OpenRate     float64 `json:"openRate"`
	ClickRate    float64 `json:"clickRate"`
	RevenueShare string  `json:"revenueShare"`
}

// Summary is the unified report response. TotalRevenue comes from the single
// authoritative window-wide aggregate, not from summing rows; events whose
// attribution could not be resolved are surfaced in the Unattributed fields
// rather than silently dropped.
type Summary struct {
	Success                 bool          `json:"success"`
	TotalRevenue            float64       `json:"totalRevenue"`
	TotalCampaigns          int           `json:"totalCampaigns"`
	TotalFlows              int           `json:"totalFlows"`
	Campaigns               []CampaignRow `json:"campaigns"`
	Flows                   []FlowRow     `json:"flows"`
	Timeframe               string        `json:"timeframe"`
	UnattributedRevenue     float64       `json:"unattributedRevenue"`
	UnattributedConversions int           `json:"unattributedConversions"`
	GeneratedInMs           int64         `json:"generatedInMs"`
}

// ErrorEnvelope is returned when a mandatory upstream piece is unavailable.
// The upstream error payload is passed through unmodified.
type ErrorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
