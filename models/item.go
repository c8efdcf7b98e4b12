// Package models defines data structures shared by the enrichment core.
package models

import "time"

// Record is the canonical metadata of one catalog item, keyed by its
// normalized URL.
type Record struct {
	Key              string     `csv:"key" json:"key"`
	Price            string     `csv:"price" json:"price"`
	Author           string     `csv:"author" json:"author"`
	Illustrator      string     `csv:"illustrator" json:"illustrator"`
	ReleaseDate      string     `csv:"release_date" json:"releaseDate"`
	Kind             string     `csv:"kind" json:"kind"`
	PageCount        string     `csv:"page_count" json:"pageCount"`
	StoryList        string     `csv:"story_list" json:"storyList"`
	Binding          string     `csv:"binding" json:"binding"`
	ISBN             string     `csv:"isbn" json:"isbn"`
	ShippableRegions string     `csv:"shippable_regions" json:"shippableRegions"`
	ShipsFrom        string     `csv:"ships_from" json:"shipsFrom"`
	ArticleNumber    string     `csv:"article_number" json:"articleNumber"`
	Format           string     `csv:"format" json:"format"`
	Color            string     `csv:"color" json:"color"`
	DisplayName      string     `csv:"display_name" json:"displayName"`
	LastUpdated      *time.Time `csv:"last_updated" json:"lastUpdated,omitempty"`
}

// EnrichedItem is the unit handed to the UI: wishlist identity plus the best
// available metadata and the flags describing where it came from.
type EnrichedItem struct {
	Link        string `json:"link"`
	DisplayName string `json:"displayName"`
	ImageRef    string `json:"imageRef,omitempty"`
	Record
	FromCache   bool `json:"fromCache"`
	IsFallback  bool `json:"isFallback"`
	NeedsUpdate bool `json:"needsUpdate"`
}

// WishlistEntry is a raw item as supplied by the upstream wishlist source.
type WishlistEntry struct {
	Link  string `json:"link"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

// RefreshTask asks the scheduler to re-fetch one item. Key is the normalized
// store key, URL the original input URL used against the origin.
type RefreshTask struct {
	Key string `json:"key"`
	URL string `json:"url"`
}
