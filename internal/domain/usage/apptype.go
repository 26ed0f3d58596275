package usage

import "strings"

// AppType is the closed set of application buckets usage is rolled up into.
type AppType int

const (
	AppAll AppType = iota
	AppCopilotChat
	AppTeams
	AppOutlook
	AppWord
	AppExcel
	AppPowerPoint
	AppOneNote
	AppLoop
	AppMAC
	AppDesigner
	AppSharePoint
	AppPlanner
	AppWhiteboard
	AppStream
	AppForms
	AppCopilotAction
	AppWebPlugin
	AppAgent
	AppCopilotStudio
)

var appNames = [...]string{
	AppAll:           "All",
	AppCopilotChat:   "CopilotChat",
	AppTeams:         "Teams",
	AppOutlook:       "Outlook",
	AppWord:          "Word",
	AppExcel:         "Excel",
	AppPowerPoint:    "PowerPoint",
	AppOneNote:       "OneNote",
	AppLoop:          "Loop",
	AppMAC:           "MAC",
	AppDesigner:      "Designer",
	AppSharePoint:    "SharePoint",
	AppPlanner:       "Planner",
	AppWhiteboard:    "Whiteboard",
	AppStream:        "Stream",
	AppForms:         "Forms",
	AppCopilotAction: "CopilotAction",
	AppWebPlugin:     "WebPlugin",
	AppAgent:         "Agent",
	AppCopilotStudio: "CopilotStudio",
}

func (a AppType) String() string {
	if a < 0 || int(a) >= len(appNames) {
		return "Unknown"
	}
	return appNames[a]
}

func (a AppType) Valid() bool { return a >= 0 && int(a) < len(appNames) }

// ParseAppType matches the storage tag case-insensitively.
func ParseAppType(s string) (AppType, bool) {
	s = strings.TrimSpace(s)
	for i, name := range appNames {
		if strings.EqualFold(name, s) {
			return AppType(i), true
		}
	}
	return 0, false
}

// AllApps lists every bucket including the synthetic All bucket, in storage order.
func AllApps() []AppType {
	out := make([]AppType, len(appNames))
	for i := range appNames {
		out[i] = AppType(i)
	}
	return out
}

// IsNative reports whether the usage report carries a dedicated last-activity
// field for the app. Non-native apps derive daily usage from interaction counts.
func (a AppType) IsNative() bool {
	switch a {
	case AppCopilotChat, AppTeams, AppOutlook, AppWord, AppExcel, AppPowerPoint, AppOneNote, AppLoop:
		return true
	default:
		return false
	}
}
