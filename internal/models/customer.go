package models

// HourlyRateKey is the customer metadata key holding the customer's hourly rate.
const HourlyRateKey = "hourly_rate"

// Customer is a snapshot of a billing customer taken at the start of a run.
type Customer struct {
	ID       string
	Email    string // Lower-cased
	Name     string
	Metadata map[string]string
}

// HourlyRate returns the raw hourly rate metadata value, if any.
func (c *Customer) HourlyRate() (string, bool) {
	if c.Metadata == nil {
		return "", false
	}
	v, ok := c.Metadata[HourlyRateKey]
	return v, ok && v != ""
}

// SetMetadata records a metadata value written back to the billing system.
func (c *Customer) SetMetadata(key, value string) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	c.Metadata[key] = value
}

// DisplayName returns the customer name, falling back to the email.
func (c *Customer) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Email != "" {
		return c.Email
	}
	return "Unknown"
}
