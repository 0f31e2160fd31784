package api

// Event is a single notification record from the daemon event stream.
type Event struct {
	// Subject is the name of the object the event concerns, empty for
	// global events.
	Subject string `json:"subject" yaml:"subject"`

	// Name is the event name, e.g. "domain-start" or "property-set:netvm".
	Name string `json:"name" yaml:"name"`

	// Data holds the event's keyword arguments, all values as strings.
	Data map[string]string `json:"data" yaml:"data"`
}
