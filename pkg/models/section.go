package models

import "time"

// ContextMenuOption is an entry in a card's context menu
type ContextMenuOption string

const (
	OpenInNewWindow     ContextMenuOption = "OpenInNewWindow"
	OpenInPrivateWindow ContextMenuOption = "OpenInPrivateWindow"
	Separator           ContextMenuOption = "Separator"
	BlockURL            ContextMenuOption = "BlockUrl"
)

// EmptyState is shown when a section has no rows
type EmptyState struct {
	Message string `json:"message"`
	Icon    string `json:"icon"`
}

// SectionOptions is the full record the host renders for one section
type SectionOptions struct {
	Title              string              `json:"title"`
	MaxRows            int                 `json:"maxRows"`
	ContextMenuOptions []ContextMenuOption `json:"contextMenuOptions"`
	EmptyState         EmptyState          `json:"emptyState"`
	Icon               string              `json:"icon,omitempty"`
	InfoOption         any                 `json:"infoOption,omitempty"`
	Rows               []Card              `json:"rows,omitempty"` // nil means unset
}

// Clone returns a copy that shares no slices with o
func (o SectionOptions) Clone() SectionOptions {
	c := o
	if o.ContextMenuOptions != nil {
		c.ContextMenuOptions = append([]ContextMenuOption{}, o.ContextMenuOptions...)
	}
	if o.Rows != nil {
		c.Rows = append([]Card{}, o.Rows...)
	}
	return c
}

// SectionPatch is a partial update. Nil fields are left untouched; a non-nil
// pointer to an empty or nil value clears the field.
type SectionPatch struct {
	Title              *string
	MaxRows            *int
	ContextMenuOptions *[]ContextMenuOption
	EmptyState         *EmptyState
	Icon               *string
	InfoOption         *any
	Rows               *[]Card
}

// OptionsPatch builds a patch that replaces every field of a section except
// its rows
func OptionsPatch(o SectionOptions) SectionPatch {
	o = o.Clone()
	return SectionPatch{
		Title:              &o.Title,
		MaxRows:            &o.MaxRows,
		ContextMenuOptions: &o.ContextMenuOptions,
		EmptyState:         &o.EmptyState,
		Icon:               &o.Icon,
		InfoOption:         &o.InfoOption,
	}
}

// Apply writes the non-nil fields of p onto o
func (p SectionPatch) Apply(o *SectionOptions) {
	if p.Title != nil {
		o.Title = *p.Title
	}
	if p.MaxRows != nil {
		o.MaxRows = *p.MaxRows
	}
	if p.ContextMenuOptions != nil {
		o.ContextMenuOptions = nil
		if *p.ContextMenuOptions != nil {
			o.ContextMenuOptions = append([]ContextMenuOption{}, (*p.ContextMenuOptions)...)
		}
	}
	if p.EmptyState != nil {
		o.EmptyState = *p.EmptyState
	}
	if p.Icon != nil {
		o.Icon = *p.Icon
	}
	if p.InfoOption != nil {
		o.InfoOption = *p.InfoOption
	}
	if p.Rows != nil {
		o.Rows = append([]Card{}, (*p.Rows)...)
	}
}

// Section is the host's record of a registered section
type Section struct {
	ID        string         `json:"id"`
	Options   SectionOptions `json:"options"`
	Enabled   bool           `json:"enabled"`
	Order     int            `json:"order"`
	UpdatedAt time.Time      `json:"updatedAt"`
}
