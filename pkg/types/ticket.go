package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// TicketStatus is the lifecycle state of a support ticket. Unknown values
// map to TicketStatusUnknown.
type TicketStatus int

const (
	TicketStatusUnknown    TicketStatus = 0
	TicketStatusReceived   TicketStatus = 200
	TicketStatusProcessing TicketStatus = 201
	TicketStatusCompleted  TicketStatus = 202
	TicketStatusDenied     TicketStatus = 203
)

func (s TicketStatus) String() string {
	switch s {
	case TicketStatusReceived:
		return "received"
	case TicketStatusProcessing:
		return "processing"
	case TicketStatusCompleted:
		return "completed"
	case TicketStatusDenied:
		return "denied"
	default:
		return "unknown"
	}
}

type ticketData struct {
	UID               string           `json:"_uid"`
	Type              string           `json:"_type"`
	Number            string           `json:"number"`
	Description       string           `json:"description"`
	ClassifierID      string           `json:"classifier_id"`
	StatusID          int              `json:"status"`
	IsViewed          bool             `json:"is_viewed"`
	LastStatusChanged string           `json:"last_status_changed"`
	Created           string           `json:"created"`
	Updated           string           `json:"updated"`
	IsCommentable     bool             `json:"is_commentable"`
	Attachments       []attachmentData `json:"attachments"`
	Comments          []commentData    `json:"comments"`
}

func ticketKey(d ticketData) Identity { return Identity{UID: d.UID, Type: d.Type} }

// Ticket is a support request routed through a classifier.
type Ticket struct {
	Identity
	Number            string
	Description       string
	ClassifierID      string
	StatusID          int
	IsViewed          bool
	LastStatusChanged time.Time
	Created           time.Time
	Updated           time.Time
	IsCommentable     bool
	Attachments       []*AttachmentImage
	Comments          []*Comment
}

// NewTicket decodes a single ticket payload, e.g. the representation the
// ticket creation endpoint returns.
func NewTicket(raw json.RawMessage) (*Ticket, error) {
	var d ticketData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decoding ticket: %w", err)
	}
	return newTicket(d)
}

func newTicket(d ticketData) (*Ticket, error) {
	t := &Ticket{Identity: Identity{UID: d.UID, Type: d.Type}}
	if err := t.applyRest(d); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Ticket) recordKey() Identity { return t.Identity }

func (t *Ticket) update(d ticketData) error {
	if err := checkIdentity("ticket", t.Identity, Identity{UID: d.UID, Type: d.Type}); err != nil {
		return err
	}
	return t.applyRest(d)
}

func (t *Ticket) applyRest(d ticketData) error {
	if err := reconcile(&t.Comments, d.Comments, commentKey, newComment); err != nil {
		return err
	}
	if err := reconcile(&t.Attachments, d.Attachments, attachmentKey, newAttachment); err != nil {
		return err
	}

	lastChanged, err := parseTimestamp(d.LastStatusChanged)
	if err != nil {
		return fmt.Errorf("ticket %s: last_status_changed: %w", t.Identity, err)
	}
	created, err := parseTimestamp(d.Created)
	if err != nil {
		return fmt.Errorf("ticket %s: created: %w", t.Identity, err)
	}
	updated, err := parseTimestamp(d.Updated)
	if err != nil {
		return fmt.Errorf("ticket %s: updated: %w", t.Identity, err)
	}

	t.Number = d.Number
	t.Description = d.Description
	t.ClassifierID = d.ClassifierID
	t.StatusID = d.StatusID
	t.IsViewed = d.IsViewed
	t.LastStatusChanged = lastChanged
	t.Created = created
	t.Updated = updated
	t.IsCommentable = d.IsCommentable
	return nil
}

// Status returns the typed ticket status, TicketStatusUnknown for values the
// model doesn't know about.
func (t *Ticket) Status() TicketStatus {
	switch TicketStatus(t.StatusID) {
	case TicketStatusReceived, TicketStatusProcessing, TicketStatusCompleted, TicketStatusDenied:
		return TicketStatus(t.StatusID)
	default:
		return TicketStatusUnknown
	}
}

type commentData struct {
	UID                 string           `json:"_uid"`
	Type                string           `json:"_type"`
	Ticket              string           `json:"ticket"`
	Text                string           `json:"text"`
	SourceCreated       string           `json:"source_created"`
	SourceUpdated       string           `json:"source_updated"`
	IsSystem            bool             `json:"is_system"`
	NotificationChannel string           `json:"notification_channel"`
	NotificationStatus  string           `json:"notification_status"`
	Sender              string           `json:"sender"`
	Attachments         []attachmentData `json:"attachments"`
}

func commentKey(d commentData) Identity { return Identity{UID: d.UID, Type: d.Type} }

// Comment is one message on a ticket thread.
type Comment struct {
	Identity
	TicketUID           string
	Text                string
	SourceCreated       string
	SourceUpdated       string
	IsSystem            bool
	NotificationChannel string
	NotificationStatus  string
	Sender              string
	Attachments         []*AttachmentImage
}

func newComment(d commentData) (*Comment, error) {
	c := &Comment{Identity: Identity{UID: d.UID, Type: d.Type}}
	if err := c.applyRest(d); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Comment) recordKey() Identity { return c.Identity }

func (c *Comment) update(d commentData) error {
	if err := checkIdentity("comment", c.Identity, Identity{UID: d.UID, Type: d.Type}); err != nil {
		return err
	}
	return c.applyRest(d)
}

func (c *Comment) applyRest(d commentData) error {
	if err := reconcile(&c.Attachments, d.Attachments, attachmentKey, newAttachment); err != nil {
		return err
	}
	c.TicketUID = d.Ticket
	c.Text = d.Text
	c.SourceCreated = d.SourceCreated
	c.SourceUpdated = d.SourceUpdated
	c.IsSystem = d.IsSystem
	c.NotificationChannel = d.NotificationChannel
	c.NotificationStatus = d.NotificationStatus
	c.Sender = d.Sender
	return nil
}

type attachmentData struct {
	UID         string   `json:"uid"`
	Created     string   `json:"created"`
	Name        string   `json:"name"`
	Size        int64    `json:"size"`
	ContentType string   `json:"content_type"`
	Tags        []string `json:"tags"`
	LinkedFrom  string   `json:"linked_from"`
	FileLink    string   `json:"file_link"`
}

// Attachments carry a bare uid without a type discriminator, so their key is
// the uid alone.
func attachmentKey(d attachmentData) string { return d.UID }

// AttachmentImage is an uploaded image on a ticket or comment.
type AttachmentImage struct {
	UID         string
	Created     time.Time
	Name        string
	Size        int64
	ContentType string
	Tags        []string
	LinkedFrom  *string
	FileLink    string
}

func newAttachment(d attachmentData) (*AttachmentImage, error) {
	a := &AttachmentImage{UID: d.UID}
	if err := a.applyRest(d); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *AttachmentImage) recordKey() string { return a.UID }

func (a *AttachmentImage) update(d attachmentData) error {
	if a.UID != d.UID {
		return integrityErrorf("attachment uid mismatch: have %s, payload %s", a.UID, d.UID)
	}
	return a.applyRest(d)
}

func (a *AttachmentImage) applyRest(d attachmentData) error {
	created, err := parseTimestamp(d.Created)
	if err != nil {
		return fmt.Errorf("attachment %s: created: %w", a.UID, err)
	}
	a.Created = created
	a.Name = d.Name
	a.Size = d.Size
	a.ContentType = d.ContentType
	a.Tags = d.Tags
	a.LinkedFrom = optionalString(d.LinkedFrom)
	a.FileLink = d.FileLink
	return nil
}

type notificationData struct {
	UID              string `json:"_uid"`
	Type             string `json:"_type"`
	Created          string `json:"created"`
	Title            string `json:"title"`
	ShortText        string `json:"short_text"`
	FullText         string `json:"full_text"`
	NotificationType int    `json:"notification_type"`
	IsUrgent         bool   `json:"is_urgent"`
	IsViewed         bool   `json:"is_viewed"`
	DateFrom         string `json:"date_from"`
	DateTo           string `json:"date_to"`
}

func notificationKey(d notificationData) Identity { return Identity{UID: d.UID, Type: d.Type} }

// Notification is an announcement published for an account.
type Notification struct {
	Identity
	Created          time.Time
	Title            string
	ShortText        string
	FullText         string
	NotificationType int
	IsUrgent         bool
	IsViewed         bool
	DateFrom         *time.Time
	DateTo           *time.Time
}

func newNotification(d notificationData) (*Notification, error) {
	n := &Notification{Identity: Identity{UID: d.UID, Type: d.Type}}
	if err := n.applyRest(d); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Notification) recordKey() Identity { return n.Identity }

func (n *Notification) update(d notificationData) error {
	if err := checkIdentity("notification", n.Identity, Identity{UID: d.UID, Type: d.Type}); err != nil {
		return err
	}
	return n.applyRest(d)
}

func (n *Notification) applyRest(d notificationData) error {
	created, err := parseTimestamp(d.Created)
	if err != nil {
		return fmt.Errorf("notification %s: created: %w", n.Identity, err)
	}
	from, err := parseOptionalTimestamp(d.DateFrom)
	if err != nil {
		return fmt.Errorf("notification %s: date_from: %w", n.Identity, err)
	}
	to, err := parseOptionalTimestamp(d.DateTo)
	if err != nil {
		return fmt.Errorf("notification %s: date_to: %w", n.Identity, err)
	}
	n.Created = created
	n.Title = d.Title
	n.ShortText = d.ShortText
	n.FullText = d.FullText
	n.NotificationType = d.NotificationType
	n.IsUrgent = d.IsUrgent
	n.IsViewed = d.IsViewed
	n.DateFrom = from
	n.DateTo = to
	return nil
}
