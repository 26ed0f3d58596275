package usage

import (
	"strings"
	"time"
)

// AuditRecord is one assistant interaction from the audit feed, already
// unwrapped from its transport envelope.
type AuditRecord struct {
	ID               string           `json:"Id"`
	CreationTime     time.Time        `json:"CreationTime"`
	Operation        string           `json:"Operation"`
	RecordType       int              `json:"RecordType"`
	UserID           string           `json:"UserId"`
	Workload         string           `json:"Workload"`
	CopilotEventData CopilotEventData `json:"CopilotEventData"`
}

type CopilotEventData struct {
	AppHost        string           `json:"AppHost"`
	Contexts       []EventContext   `json:"Contexts"`
	AISystemPlugin []AISystemPlugin `json:"AISystemPlugin"`
	ThreadID       string           `json:"ThreadId"`
	AgentID        string           `json:"AgentId,omitempty"`
	AgentName      string           `json:"AgentName,omitempty"`
}

type EventContext struct {
	ID   string `json:"Id"`
	Type string `json:"Type"`
}

type AISystemPlugin struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
}

// WebSearchPluginID marks interactions grounded on web search.
const WebSearchPluginID = "BingWebSearch"

func (d CopilotEventData) UsedWebSearch() bool {
	for _, p := range d.AISystemPlugin {
		if p.ID == WebSearchPluginID || p.Name == WebSearchPluginID {
			return true
		}
	}
	return false
}

func (d CopilotEventData) ContextTypes() string {
	types := make([]string, 0, len(d.Contexts))
	for _, c := range d.Contexts {
		types = append(types, c.Type)
	}
	return strings.Join(types, ", ")
}

func (d CopilotEventData) PluginIDs() string {
	ids := make([]string, 0, len(d.AISystemPlugin))
	for _, p := range d.AISystemPlugin {
		ids = append(ids, p.ID)
	}
	return strings.Join(ids, ", ")
}
