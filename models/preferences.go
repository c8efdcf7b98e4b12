package models

// Priority is a user-assigned rank for one item of a list; 1 is the most
// important.
type Priority struct {
	URL      string `json:"url"`
	Priority int    `json:"priority"`
}

// Dependency states that URL should only be bought after DependencyURL.
type Dependency struct {
	URL           string `json:"url"`
	DependencyURL string `json:"dependencyUrl"`
}

// Note is free text attached to an item of a list.
type Note struct {
	URL  string `json:"url"`
	Text string `json:"note"`
}
