package ingestion

import (
	"strings"

	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
)

var directHosts = map[string]types.AppType{
	"word":       types.AppWord,
	"excel":      types.AppExcel,
	"powerpoint": types.AppPowerPoint,
	"onenote":    types.AppOneNote,
	"outlook":    types.AppOutlook,
	"loop":       types.AppLoop,
	"whiteboard": types.AppWhiteboard,
	"designer":   types.AppDesigner,
	"sharepoint": types.AppSharePoint,
	"forms":      types.AppForms,
	"planner":    types.AppPlanner,
	"stream":     types.AppStream,

	"edge":               types.AppCopilotChat,
	"m365admincenter":    types.AppMAC,
	"oaiautomationagent": types.AppCopilotAction,
	"copilot studio":     types.AppCopilotStudio,
}

// Unhandled labels interactions from hosts Classify does not know.
const Unhandled = types.AppType(-1)

// Classify maps an interaction to its app bucket. ok is false for hosts the
// rollup does not know; those are counted separately and not aggregated.
func Classify(d types.CopilotEventData) (types.AppType, bool) {
	host := strings.ToLower(strings.TrimSpace(d.AppHost))
	switch host {
	case "teams":
		for _, c := range d.Contexts {
			if strings.HasPrefix(c.Type, "Teams") {
				return types.AppTeams, true
			}
		}
		return types.AppCopilotChat, true
	case "office":
		if strings.TrimSpace(d.AgentID) != "" {
			return types.AppAgent, true
		}
		return types.AppCopilotChat, true
	}
	if app, ok := directHosts[host]; ok {
		return app, true
	}
	return Unhandled, false
}
