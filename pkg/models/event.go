package models

// EventKind identifies a registry notification
type EventKind string

const (
	EventInit           EventKind = "INIT"
	EventUninit         EventKind = "UNINIT"
	EventEnableSection  EventKind = "ENABLE_SECTION"
	EventDisableSection EventKind = "DISABLE_SECTION"
	EventActionDispatch EventKind = "ACTION_DISPATCHED"
	EventUpdateSection  EventKind = "UPDATE_SECTION"
)

// Actions the host dispatches to sections
const (
	ActionSystemTick   = "SystemTick"
	ActionNewTabOpened = "NewTabOpened"
)

// Event is emitted by the section registry.
// SectionID is empty for events that concern every section.
type Event struct {
	Kind      EventKind `json:"kind"`
	SectionID string    `json:"sectionId,omitempty"`
	Action    string    `json:"action,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Section   *Section  `json:"section,omitempty"`
}
