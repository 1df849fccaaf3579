// Package models defines the records exchanged with the push-notification server.
package models

import (
	"encoding/json"
	"time"
)

// PartitionAll is the synthetic partition aggregating every application.
const PartitionAll int64 = -1

// Priority bounds accepted by the server.
const (
	MinPriority = 0
	MaxPriority = 10
)

// Message is a single server-pushed notification. Identity is ID.
type Message struct {
	// ID is assigned by the server and unique across all applications.
	ID int64 `json:"id"`

	// AppID is the owning application and the partition key of the message.
	AppID int64 `json:"appid"`

	// Title is the optional headline.
	Title string `json:"title,omitempty"`

	// Message is the body text.
	Message string `json:"message"`

	// Priority ranges from MinPriority to MaxPriority.
	Priority int `json:"priority"`

	// Date is when the server accepted the message.
	Date time.Time `json:"date"`

	// Extras is an opaque key-value map forwarded untouched.
	Extras map[string]json.RawMessage `json:"extras,omitempty"`
}

// Newer reports whether m sorts before other in a newest-first list:
// date descending, ties broken by id descending.
func (m Message) Newer(other Message) bool {
	if !m.Date.Equal(other.Date) {
		return m.Date.After(other.Date)
	}
	return m.ID > other.ID
}

// Clone returns a copy that does not share the extras map.
func (m Message) Clone() Message {
	if m.Extras == nil {
		return m
	}
	extras := make(map[string]json.RawMessage, len(m.Extras))
	for k, v := range m.Extras {
		extras[k] = append(json.RawMessage(nil), v...)
	}
	m.Extras = extras
	return m
}

// Application is a message source registered on the server.
type Application struct {
	ID          int64  `json:"id"`
	Token       string `json:"token,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Internal    bool   `json:"internal,omitempty"`
	// Image is the server-relative path of the application icon.
	Image string `json:"image,omitempty"`
}

// Paging describes where a page sits in the backward walk through history.
type Paging struct {
	// Size is the number of messages in this page.
	Size int `json:"size"`

	// Since is present when older messages exist; it is the cursor for the next page.
	Since *int64 `json:"since,omitempty"`

	// Limit is the page size the server applied.
	Limit int `json:"limit"`

	// Next is the absolute URL of the next page, if the server provides one.
	Next string `json:"next,omitempty"`
}

// HasMore reports whether another page exists.
func (p Paging) HasMore() bool {
	return p.Since != nil
}

// PagedMessages is the paged-fetch response body.
type PagedMessages struct {
	Messages []Message `json:"messages"`
	Paging   Paging    `json:"paging"`
}

// User is the authenticated account, returned by the auth check.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Admin bool   `json:"admin"`
}
