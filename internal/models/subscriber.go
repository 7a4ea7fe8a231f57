package models

// CategoryGeneral is the mailing-list category notified about new leads.
const CategoryGeneral = "general"

type Subscriber struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Category string `json:"category"`
	Active   bool   `json:"active"`
}

// Lead is a verified form submission.
type Lead struct {
	FormType FormType `json:"form_type"`
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Phone    string   `json:"phone,omitempty"`
	Company  string   `json:"company,omitempty"`
	Message  string   `json:"message,omitempty"`
}
