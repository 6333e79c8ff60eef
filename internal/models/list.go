package models

// ListMessage is an interactive WhatsApp list, composed by the flow engine
// from a list node and rendered by the outbound gateway.
type ListMessage struct {
	To           string        `json:"to"`
	InstanceName string        `json:"instanceName,omitempty"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	ButtonText   string        `json:"buttonText"`
	FooterText   string        `json:"footerText,omitempty"`
	Sections     []ListSection `json:"sections"`
}

// ListSection groups rows under a section title.
type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

// ListRow is one selectable row. RowID is what WhatsApp reports back when
// the contact picks the row.
type ListRow struct {
	RowID       string `json:"rowId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}
