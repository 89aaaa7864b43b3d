package dto

// CreateSubscriptionRequest describes a new seat alert.
type CreateSubscriptionRequest struct {
	InstitutionKey string  `json:"institutionKey" validate:"required,max=64"`
	CourseKey      string  `json:"courseKey" validate:"required,max=64"`
	SectionKey     *string `json:"sectionKey" validate:"omitempty,max=64"`
	TermKey        string  `json:"termKey" validate:"required,max=64"`
	Contact        string  `json:"contact" validate:"required,max=254"`
	Enabled        *bool   `json:"enabled"`
}

// UpdateSubscriptionRequest carries only the fields to change.
type UpdateSubscriptionRequest struct {
	InstitutionKey *string `json:"institutionKey" validate:"omitempty,min=1,max=64"`
	CourseKey      *string `json:"courseKey" validate:"omitempty,min=1,max=64"`
	SectionKey     *string `json:"sectionKey" validate:"omitempty,max=64"`
	TermKey        *string `json:"termKey" validate:"omitempty,min=1,max=64"`
	Contact        *string `json:"contact" validate:"omitempty,min=1,max=254"`
	Enabled        *bool   `json:"enabled"`
}

// VerifyContactRequest is an inbound confirmation reply.
type VerifyContactRequest struct {
	AccessKey string `json:"accessKey" validate:"required"`
	Contact   string `json:"contact" validate:"required"`
}
