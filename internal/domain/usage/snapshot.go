package usage

// UsageSnapshot is one user's row of the daily usage report. Dates are yyyy-MM-dd
// strings exactly as the report delivers them; an empty string means no activity.
type UsageSnapshot struct {
	ReportRefreshDate                     string `json:"reportRefreshDate"`
	UserPrincipalName                     string `json:"userPrincipalName"`
	DisplayName                           string `json:"displayName,omitempty"`
	LastActivityDate                      string `json:"lastActivityDate"`
	CopilotChatLastActivityDate           string `json:"copilotChatLastActivityDate"`
	MicrosoftTeamsCopilotLastActivityDate string `json:"microsoftTeamsCopilotLastActivityDate"`
	WordCopilotLastActivityDate           string `json:"wordCopilotLastActivityDate"`
	ExcelCopilotLastActivityDate          string `json:"excelCopilotLastActivityDate"`
	PowerPointCopilotLastActivityDate     string `json:"powerPointCopilotLastActivityDate"`
	OutlookCopilotLastActivityDate        string `json:"outlookCopilotLastActivityDate"`
	OneNoteCopilotLastActivityDate        string `json:"oneNoteCopilotLastActivityDate"`
	LoopCopilotLastActivityDate           string `json:"loopCopilotLastActivityDate"`
}

// LastActivityFor returns the app-specific last activity date for native apps.
func (s UsageSnapshot) LastActivityFor(app AppType) (string, bool) {
	switch app {
	case AppCopilotChat:
		return s.CopilotChatLastActivityDate, true
	case AppTeams:
		return s.MicrosoftTeamsCopilotLastActivityDate, true
	case AppWord:
		return s.WordCopilotLastActivityDate, true
	case AppExcel:
		return s.ExcelCopilotLastActivityDate, true
	case AppPowerPoint:
		return s.PowerPointCopilotLastActivityDate, true
	case AppOutlook:
		return s.OutlookCopilotLastActivityDate, true
	case AppOneNote:
		return s.OneNoteCopilotLastActivityDate, true
	case AppLoop:
		return s.LoopCopilotLastActivityDate, true
	default:
		return "", false
	}
}
