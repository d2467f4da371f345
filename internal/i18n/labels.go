package i18n

import "github.com/amoylab/chatline/internal/chat/projection"

// Labels returns projection labels rendered in lang. Ids without a
// translation fall back to the built-in English labels.
func (i *I18n) Labels(lang string) projection.Labels {
	return projection.LabelFunc(func(id string, data map[string]any) string {
		if s := i.Translate(id, lang, data); s != id {
			return s
		}
		return projection.English(id, data)
	})
}

// LabelsFor renders projection labels in the language of the request.
func LabelsFor(lang string) projection.Labels {
	t := GetTranslator()
	if t == nil {
		return projection.DefaultLabels
	}
	return t.Labels(lang)
}
