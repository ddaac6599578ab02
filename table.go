package main

// requestKey identifies a request entry. A request id is only unique per
// tab, and redirects reuse the id for a new URL.
type requestKey struct {
	Tab       TabID  `json:"tabId"`
	RequestID string `json:"requestId"`
	URL       string `json:"url"`
}

// requestTable owns every live RequestEntry
type requestTable struct {
	entries map[requestKey]*RequestEntry
}

func newRequestTable() *requestTable {
	return &requestTable{entries: map[requestKey]*RequestEntry{}}
}

// get returns the entry for key, or nil
func (t *requestTable) get(key requestKey) *RequestEntry {
	return t.entries[key]
}

// getOrCreate returns the entry for key, creating it when absent. created
// reports whether a new entry was made so the caller can attach it to the
// tab's current navigation.
func (t *requestTable) getOrCreate(key requestKey) (entry *RequestEntry, created bool) {
	if entry, ok := t.entries[key]; ok {
		return entry, false
	}

	entry = &RequestEntry{Tab: key.Tab, RequestID: key.RequestID, URL: key.URL}
	t.entries[key] = entry
	return entry, true
}

// remove drops the entry for key and returns it
func (t *requestTable) remove(key requestKey) *RequestEntry {
	entry := t.entries[key]
	delete(t.entries, key)
	return entry
}

// removeTab drops every entry that belongs to tab
func (t *requestTable) removeTab(tab TabID) {
	for key := range t.entries {
		if key.Tab == tab {
			delete(t.entries, key)
		}
	}
}

// all returns every entry (order unspecified)
func (t *requestTable) all() []*RequestEntry {
	entries := make([]*RequestEntry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	return entries
}

func (t *requestTable) reset() {
	t.entries = map[requestKey]*RequestEntry{}
}

func (t *requestTable) len() int {
	return len(t.entries)
}
