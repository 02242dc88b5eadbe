package models

// Card is a single content item shown in a section
type Card struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Hostname    string `json:"hostname"`
}
