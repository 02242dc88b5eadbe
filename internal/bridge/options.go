package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shehryarbajwa/newtab-sections/internal/extension"
	"github.com/shehryarbajwa/newtab-sections/pkg/models"
)

// DefaultOptions is the record every section starts from
var DefaultOptions = models.SectionOptions{
	Title:   "Untitled",
	MaxRows: 1,
	ContextMenuOptions: []models.ContextMenuOption{
		models.OpenInNewWindow,
		models.OpenInPrivateWindow,
		models.Separator,
		models.BlockURL,
	},
	EmptyState: models.EmptyState{
		Message: "This section is empty",
		Icon:    "check",
	},
	Icon: "icons/section.svg",
}

// BuildOptions merges manifest overrides onto defaults.
//
// Keys set to extension.Unset keep the default. Every other key replaces the
// default, including zero values such as 0 or "". A value that does not decode
// into its field is logged and the default kept; unknown keys are ignored.
// The resulting icon is resolved to an extension URL.
func BuildOptions(defaults models.SectionOptions, overrides extension.Overrides, ext *extension.Extension) models.SectionOptions {
	opts := defaults.Clone()

	// Pass one: drop explicit unsets so the default survives.
	explicit := make(map[string]any, len(overrides))
	for key, value := range overrides {
		if extension.IsUnset(value) {
			continue
		}
		explicit[key] = value
	}

	// Pass two: every remaining key wins over the default.
	for key, value := range explicit {
		if err := setOption(&opts, key, value); err != nil {
			log.Warn("invalid_section_option",
				slog.String("extension", ext.ID),
				slog.String("key", key),
				slog.String("error", err.Error()))
		}
	}

	opts.Icon = resolveIcon(ext, opts.Icon)
	return opts
}

func resolveIcon(ext *extension.Extension, icon string) string {
	if icon == "" || ext.IsExtensionURL(icon) {
		return icon
	}
	return ext.GetURL(icon)
}

func setOption(opts *models.SectionOptions, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	switch key {
	case "title":
		return decodeInto(&opts.Title, raw)
	case "maxRows":
		return decodeInto(&opts.MaxRows, raw)
	case "contextMenuOptions":
		return decodeInto(&opts.ContextMenuOptions, raw)
	case "emptyState":
		return decodeInto(&opts.EmptyState, raw)
	case "icon":
		return decodeInto(&opts.Icon, raw)
	case "infoOption":
		return decodeInto(&opts.InfoOption, raw)
	case "rows":
		return decodeInto(&opts.Rows, raw)
	}
	log.Debug("unknown_section_option", slog.String("key", key))
	return nil
}

// decodeInto only touches dst when raw decodes cleanly
func decodeInto[T any](dst *T, raw []byte) error {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	*dst = v
	return nil
}
