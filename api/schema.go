package api

// Version is the document schema version written by this module.
const Version = "1"

// Document is the stored shape of a form definition.
type Document struct {
	// Version of the document schema.
	Version string `json:"version"`
	// Root is the node id of the form root, e.g. "data".
	Root string `json:"root"`
	// Languages lists the text languages; the first is the default.
	Languages []string `json:"languages,omitempty"`
	// Questions are the children of the root, in order.
	Questions []Question `json:"questions,omitempty"`
	// Instances declares the external data sources.
	Instances []Instance `json:"instances,omitempty"`
	// Texts holds the localized text items.
	Texts []Text `json:"texts,omitempty"`
}

// Question is one node below the root.
type Question struct {
	// ID is the node id, or the value of a choice.
	ID string `json:"id"`
	// Type is the node kind, e.g. "text", "group", "choice".
	Type string `json:"type"`
	// Properties maps "group/name" to a value, e.g. "bind/relevant".
	Properties map[string]string `json:"properties,omitempty"`
	// Texts maps a text property ("label", "hint", ...) to a text id.
	Texts map[string]string `json:"texts,omitempty"`
	// Sources maps data source ids this question uses to the uri it expects.
	Sources map[string]string `json:"sources,omitempty"`
	// Children of a group, repeat, field list or select.
	Children []Question `json:"children,omitempty"`
}

// Instance is a declared data source.
type Instance struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

// Text is a localized text item.
type Text struct {
	ID string `json:"id"`
	// Shared items are referenced, not copied, when a question is duplicated.
	Shared bool `json:"shared,omitempty"`
	// Forms maps a form ("default", "audio", ...) to values per language.
	Forms map[string]map[string]string `json:"forms"`
}
