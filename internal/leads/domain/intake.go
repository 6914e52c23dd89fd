package domain

// FieldInput is an intake value for a tracked field.
type FieldInput struct {
	Value     string
	Confirmed bool
}

// Intake is a validated lead creation record. Phone is already normalised.
type Intake struct {
	Phone           string
	Email           *string
	Postcode        *string
	PropertyAddress *string
	Fields          map[Field]FieldInput
}
