package jellyfin

// LibraryView is a top-level library exposed by GET /Users/Me/Views.
type LibraryView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Item is a node of the remote catalog returned by GET /Users/Me/Items.
type Item struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId"`
	// Type is the remote item kind, e.g. "Movie", "Series", "Folder".
	Type     string `json:"type"`
	IsFolder bool   `json:"isFolder"`
}
